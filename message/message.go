// Package message implements the OUTPACE validator message tagged union:
// NewState, ApproveState, RejectState, Heartbeat, and Accounting. Every
// variant is parsed into a concrete Go type before any business logic
// sees it.
package message

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/outpace-protocol/validator-worker/balance"
)

// Type discriminates the wire variants.
type Type string

const (
	TypeNewState     Type = "NewState"
	TypeApproveState Type = "ApproveState"
	TypeRejectState  Type = "RejectState"
	TypeHeartbeat    Type = "Heartbeat"
	TypeAccounting   Type = "Accounting"
)

// Message is implemented by every variant. MsgType lets call sites switch
// on the concrete kind without a further type assertion.
type Message interface {
	MsgType() Type
}

// NewState is the leader's signed proposal of the next balance tree.
type NewState struct {
	StateRoot         string      `json:"stateRoot"`
	Signature         string      `json:"signature"`
	Balances          balance.Map `json:"balances"`
	BalancesAfterFees balance.Map `json:"balancesAfterFees"`
}

func (NewState) MsgType() Type { return TypeNewState }

// ApproveState is the follower's signed acknowledgment that a NewState is
// valid. Balances is the approved (pre-fee) tree, carried here so a later
// tick can recover "what we last approved" without hunting through the
// NewState history for the one matching StateRoot — the leader may have
// since proposed several newer ones.
type ApproveState struct {
	StateRoot string      `json:"stateRoot"`
	Signature string      `json:"signature"`
	IsHealthy bool        `json:"isHealthy"`
	Balances  balance.Map `json:"balances"`
}

func (ApproveState) MsgType() Type { return TypeApproveState }

// RejectReason enumerates why a follower refused a NewState.
type RejectReason string

const (
	ReasonInvalidTransition    RejectReason = "InvalidTransition"
	ReasonInvalidValidatorFees RejectReason = "InvalidValidatorFees"
	ReasonInvalidRootHash      RejectReason = "InvalidRootHash"
	ReasonInvalidSignature     RejectReason = "InvalidSignature"
)

// RejectState is the follower's signed rejection of a NewState.
type RejectState struct {
	Reason    RejectReason `json:"reason"`
	StateRoot string       `json:"stateRoot"`
}

func (RejectState) MsgType() Type { return TypeRejectState }

// Heartbeat is a liveness signal, emitted when a tick produces nothing
// else and the heartbeat interval has elapsed since our previous one.
type Heartbeat struct {
	StateRoot string    `json:"stateRoot"`
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
}

func (Heartbeat) MsgType() Type { return TypeHeartbeat }

// Accounting is the producer's internal bookkeeping record: current
// balances plus the event-aggregate consumption cursor.
type Accounting struct {
	LastEvAggr         time.Time   `json:"lastEvAggr"`
	Balances           balance.Map `json:"balances"`
	BalancesBeforeFees balance.Map `json:"balancesBeforeFees"`
}

func (Accounting) MsgType() Type { return TypeAccounting }

// Envelope is the persisted/propagated wrapper around a Message. Seq is
// a monotonically increasing, per-(ChannelID, From) sequence number
// assigned by the store on insert, replacing an ambiguous
// insertion-order tie-break.
type Envelope struct {
	ChannelID string    `json:"channelId"`
	From      string    `json:"from"`
	Received  time.Time `json:"received"`
	Seq       uint64    `json:"seq"`
	Msg       Message   `json:"msg"`
}

// Decode parses a single wire-format message object into its concrete
// variant, sniffing the "type" discriminator with fastjson before handing
// the full payload to encoding/json for typed decode.
func Decode(data []byte) (Message, error) {
	var parser fastjson.Parser
	v, err := parser.ParseBytes(data)
	if err != nil {
		return nil, errors.Wrap(err, "message: sniff type")
	}

	typeBytes := v.GetStringBytes("type")
	if typeBytes == nil {
		return nil, errors.New("message: missing \"type\" discriminator")
	}

	switch Type(typeBytes) {
	case TypeNewState:
		var m NewState
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "message: decode NewState")
		}
		return m, nil
	case TypeApproveState:
		var m ApproveState
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "message: decode ApproveState")
		}
		return m, nil
	case TypeRejectState:
		var m RejectState
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "message: decode RejectState")
		}
		return m, nil
	case TypeHeartbeat:
		var m Heartbeat
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "message: decode Heartbeat")
		}
		return m, nil
	case TypeAccounting:
		var m Accounting
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "message: decode Accounting")
		}
		return m, nil
	default:
		return nil, errors.Errorf("message: unknown type %q", typeBytes)
	}
}

// Encode serializes a Message back to its wire form, injecting the "type"
// discriminator that the variant structs themselves don't carry.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "message: marshal")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errors.Wrap(err, "message: re-decode for type tagging")
	}

	typeJSON, _ := json.Marshal(m.MsgType())
	fields["type"] = typeJSON

	return json.Marshal(fields)
}
