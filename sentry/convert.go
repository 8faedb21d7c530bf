package sentry

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/outpace-protocol/validator-worker/channel"
)

// ToChannel converts the wire representation of a channel (decimal-string
// amounts) into a validated channel.Channel.
func (ci ChannelInfo) ToChannel() (*channel.Channel, error) {
	deposit, ok := new(big.Int).SetString(ci.DepositAmount, 10)
	if !ok {
		return nil, errors.Errorf("sentry: invalid depositAmount %q", ci.DepositAmount)
	}

	var validators [2]channel.ValidatorDesc
	for i, v := range ci.Spec.Validators {
		fee, ok := new(big.Int).SetString(v.Fee, 10)
		if !ok {
			return nil, errors.Errorf("sentry: invalid validator fee %q", v.Fee)
		}
		validators[i] = channel.ValidatorDesc{ID: v.ID, URL: v.URL, Fee: fee}
	}

	return channel.New(ci.ID, ci.DepositAsset, deposit, ci.ValidUntil, ci.Creator, validators)
}
