package balance

import (
	"math/big"
	"strconv"
)

// FeeRecipient is anything that declares a flat fee amount and an index
// within the channel's validator list (0 = leader, 1 = follower). It lets
// this package stay independent of the channel package's concrete type.
type FeeRecipient struct {
	Index int
	Fee   *big.Int
}

// AfterFees deterministically redistributes a prorated share of each
// publisher's balance to the channel's validators, proportional to each
// validator's declared fee and the channel's overall utilization
// (sum(balances)/depositAmount), and subtracts that share from the
// publisher's entry.
//
// It is deterministic regardless of map iteration order: publishers are
// visited in SortedKeys order (balances.SortedKeys), so two independent runs
// over the same inputs produce byte-identical output. For each publisher,
// the total fee owed (sum of all validators' fees, prorated) is computed
// once and then split across validators proportional to their individual
// fee; any wei left over by that split's integer division is credited to
// the leader (the validator with the lowest index) — the documented
// tie-break. sum(result) == sum(balances) always: everything
// deducted from a publisher is accounted for in exactly one validator's
// credit, including the leader's remainder.
func AfterFees(balances Map, depositAmount *big.Int, validators []FeeRecipient) Map {
	result := balances.Clone()

	if depositAmount.Sign() == 0 || balances.Sum().Sign() == 0 || len(validators) == 0 {
		return result
	}

	totalFee := big.NewInt(0)
	for _, v := range validators {
		totalFee.Add(totalFee, v.Fee)
	}

	leaderPos := 0
	for i, v := range validators {
		if v.Index < validators[leaderPos].Index {
			leaderPos = i
		}
	}

	credits := make([]*big.Int, len(validators))
	for i := range credits {
		credits[i] = big.NewInt(0)
	}

	for _, publisher := range balances.SortedKeys() {
		amount := balances.Get(publisher)

		// owed = amount * totalFee / depositAmount, the combined fee this
		// publisher's balance owes across both validators.
		owed := new(big.Int).Mul(amount, totalFee)
		owed.Div(owed, depositAmount)
		if owed.Cmp(amount) > 0 {
			owed = new(big.Int).Set(amount)
		}

		distributed := big.NewInt(0)
		if totalFee.Sign() > 0 {
			for i, v := range validators {
				if i == leaderPos {
					continue
				}
				share := new(big.Int).Mul(owed, v.Fee)
				share.Div(share, totalFee)
				credits[i].Add(credits[i], share)
				distributed.Add(distributed, share)
			}
		}

		leaderShare := new(big.Int).Sub(owed, distributed)
		credits[leaderPos].Add(credits[leaderPos], leaderShare)

		result[publisher] = new(big.Int).Sub(amount, owed)
	}

	for i, v := range validators {
		if credits[i].Sign() == 0 {
			continue
		}
		id := validatorKey(v.Index)
		result[id] = new(big.Int).Add(result.Get(id), credits[i])
	}

	return result
}

// validatorKey is the balance-map key a validator's accumulated fee is
// recorded under. Prefixed so it can never collide with a publisher id,
// which sentry-side schema validation restricts to non-underscore-prefixed
// identifiers (out of scope here, but assumed by this choice of prefix).
func validatorKey(index int) string {
	return "_fee_validator_" + strconv.Itoa(index)
}
