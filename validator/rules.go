// Package validator implements the tick state machine: the leader/follower
// reconciliation protocol that is the hard core of the system.
package validator

import (
	"math/big"

	"github.com/outpace-protocol/validator-worker/balance"
	"github.com/outpace-protocol/validator-worker/channel"
)

// IsValidTransition reports whether next is a legal successor of prev on
// channel c:
//  1. sum(next) >= sum(prev)
//  2. sum(next) <= c.DepositAmount
//  3. every key in prev exists in next with next[k] >= prev[k]
//  4. no value in next is negative (guaranteed by balance.Map's invariant)
func IsValidTransition(c *channel.Channel, prev, next balance.Map) bool {
	if next.Sum().Cmp(prev.Sum()) < 0 {
		return false
	}
	if next.Sum().Cmp(c.DepositAmount) > 0 {
		return false
	}

	for _, k := range prev.SortedKeys() {
		v, ok := next[k]
		if !ok || v.Cmp(prev[k]) < 0 {
			return false
		}
	}

	return true
}

// HealthThresholdPromilles is the default minimum fraction (in
// thousandths) of our committed balance that must also appear in the
// peer's approved view for the channel to be considered healthy.
const HealthThresholdPromilles = 950

// IsHealthy computes a health verdict: mins = sum of
// min(our[k], approved[k]) over every key in our; total = sum(our).
// Healthy iff mins >= total, or mins*1000/total >= thresholdPromilles
// (integer division). A channel with zero total balance is vacuously
// healthy.
func IsHealthy(our, approved balance.Map, thresholdPromilles int) bool {
	total := our.Sum()
	if total.Sign() == 0 {
		return true
	}

	mins := big.NewInt(0)
	for _, k := range our.SortedKeys() {
		ourVal := our.Get(k)
		approvedVal := approved.Get(k)

		m := ourVal
		if approvedVal.Cmp(ourVal) < 0 {
			m = approvedVal
		}
		mins.Add(mins, m)
	}

	if mins.Cmp(total) >= 0 {
		return true
	}

	promilles := new(big.Int).Mul(mins, big.NewInt(1000))
	promilles.Div(promilles, total)

	return promilles.Cmp(big.NewInt(int64(thresholdPromilles))) >= 0
}
