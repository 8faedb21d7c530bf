// Package channel defines the OUTPACE payment channel: a fixed on-chain
// deposit, a declared leader/follower validator pair, and the window in
// which off-chain balances may accrue.
package channel

import (
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/outpace-protocol/validator-worker/balance"
)

// ErrValidatorCount reports a validator count other than exactly two. The
// OUTPACE protocol is explicitly two-party only. New never returns it: its
// [2]ValidatorDesc parameter fixes the count at two, and a wire channel
// with more validators is truncated to the first two when decoded into
// sentry.ChannelInfo rather than rejected.
var ErrValidatorCount = errors.New("channel: exactly two validators are required")

// ErrFeesExceedDeposit is returned by New when the validators' declared
// fees sum to more than the deposit.
var ErrFeesExceedDeposit = errors.New("channel: validator fees exceed deposit amount")

// ValidatorDesc describes one of a channel's two validators.
type ValidatorDesc struct {
	ID  string   `json:"id"`
	URL string   `json:"url"`
	Fee *big.Int `json:"fee"`
}

// Spec is the immutable validator-pair declaration of a channel.
type Spec struct {
	Validators [2]ValidatorDesc `json:"validators"`
}

// Channel is immutable once created.
type Channel struct {
	ID            string    `json:"id"`
	DepositAsset  string    `json:"depositAsset"`
	DepositAmount *big.Int  `json:"depositAmount"`
	ValidUntil    time.Time `json:"validUntil"`
	Creator       string    `json:"creator"`
	Spec          Spec      `json:"spec"`
}

// New validates and constructs a Channel. It is the only constructor:
// callers can never observe a Channel whose invariants don't hold.
func New(id, depositAsset string, depositAmount *big.Int, validUntil time.Time, creator string, validators [2]ValidatorDesc) (*Channel, error) {
	if depositAmount.Sign() < 0 {
		return nil, errors.New("channel: depositAmount must be non-negative")
	}

	feeSum := new(big.Int).Add(validators[0].Fee, validators[1].Fee)
	if feeSum.Cmp(depositAmount) > 0 {
		return nil, ErrFeesExceedDeposit
	}

	return &Channel{
		ID:            id,
		DepositAsset:  depositAsset,
		DepositAmount: depositAmount,
		ValidUntil:    validUntil,
		Creator:       creator,
		Spec:          Spec{Validators: validators},
	}, nil
}

// Leader returns the validator at index 0.
func (c *Channel) Leader() ValidatorDesc { return c.Spec.Validators[0] }

// Follower returns the validator at index 1.
func (c *Channel) Follower() ValidatorDesc { return c.Spec.Validators[1] }

// IndexOf returns the validator index (0 or 1) of the given identity, or
// -1 if the identity is not one of this channel's validators.
func (c *Channel) IndexOf(identity string) int {
	for i, v := range c.Spec.Validators {
		if v.ID == identity {
			return i
		}
	}
	return -1
}

// FeeRecipients returns the validator fee declarations in the shape the
// balance package's fee-tree computation consumes.
func (c *Channel) FeeRecipients() []balance.FeeRecipient {
	out := make([]balance.FeeRecipient, len(c.Spec.Validators))
	for i, v := range c.Spec.Validators {
		out[i] = balance.FeeRecipient{Index: i, Fee: v.Fee}
	}
	return out
}

// Live reports whether the channel can still accrue balance as of now:
// validUntil hasn't elapsed and the deposit isn't fully exhausted.
func (c *Channel) Live(now time.Time, balances balance.Map) bool {
	if now.After(c.ValidUntil) {
		return false
	}
	return balances.Sum().Cmp(c.DepositAmount) < 0
}
