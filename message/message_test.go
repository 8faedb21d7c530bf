package message

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/outpace-protocol/validator-worker/balance"
)

func TestEncodeDecodeNewStateRoundTrip(t *testing.T) {
	balances := balance.New()
	_ = balances.Set("pub1", big.NewInt(3))

	ns := NewState{
		StateRoot:         "ab00",
		Signature:         "sig",
		Balances:          balances,
		BalancesAfterFees: balances,
	}

	data, err := Encode(ns)
	assert.NoError(t, err)

	decoded, err := Decode(data)
	assert.NoError(t, err)
	assert.Equal(t, TypeNewState, decoded.MsgType())

	got, ok := decoded.(NewState)
	assert.True(t, ok)
	assert.Equal(t, ns.StateRoot, got.StateRoot)
	assert.True(t, balance.Equal(ns.Balances, got.Balances))
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"stateRoot":"ab"}`))
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"Bogus"}`))
	assert.Error(t, err)
}

func TestEncodeDecodeHeartbeat(t *testing.T) {
	hb := Heartbeat{
		StateRoot: "00",
		Signature: "sig",
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}

	data, err := Encode(hb)
	assert.NoError(t, err)

	decoded, err := Decode(data)
	assert.NoError(t, err)

	got, ok := decoded.(Heartbeat)
	assert.True(t, ok)
	assert.True(t, hb.Timestamp.Equal(got.Timestamp))
}

func TestEncodeDecodeApproveStateRoundTrip(t *testing.T) {
	balances := balance.New()
	_ = balances.Set("pub1", big.NewInt(7))

	as := ApproveState{
		StateRoot: "cd00",
		Signature: "sig",
		IsHealthy: true,
		Balances:  balances,
	}

	data, err := Encode(as)
	assert.NoError(t, err)

	decoded, err := Decode(data)
	assert.NoError(t, err)
	assert.Equal(t, TypeApproveState, decoded.MsgType())

	got, ok := decoded.(ApproveState)
	assert.True(t, ok)
	assert.True(t, got.IsHealthy)
	assert.True(t, balance.Equal(as.Balances, got.Balances))
}

func TestEncodeDecodeRejectState(t *testing.T) {
	rs := RejectState{Reason: ReasonInvalidSignature, StateRoot: "ab"}

	data, err := Encode(rs)
	assert.NoError(t, err)

	decoded, err := Decode(data)
	assert.NoError(t, err)

	got, ok := decoded.(RejectState)
	assert.True(t, ok)
	assert.Equal(t, ReasonInvalidSignature, got.Reason)
}
