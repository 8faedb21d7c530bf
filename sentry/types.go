package sentry

import (
	"time"

	"github.com/outpace-protocol/validator-worker/message"
)

// EventAggregateEntry is one publisher's share of an EventAggregate.
type EventAggregateEntry struct {
	EventCounts  map[string]uint64 `json:"eventCounts"`
	EventPayouts map[string]string `json:"eventPayouts"`
}

// EventAggregate groups impression/click events by publisher for a single
// channel, since some cursor position.
type EventAggregate struct {
	ChannelID string                         `json:"channelId"`
	Created   time.Time                      `json:"created"`
	Events    map[string]EventAggregateEntry `json:"events"`
}

// LastApproved bundles a channel's most recent mutually-agreed state.
type LastApproved struct {
	NewState     *message.Envelope
	ApproveState *message.Envelope
}

// ChannelListResponse is the decoded body of GET /channel/list.
type ChannelListResponse struct {
	Channels []ChannelInfo `json:"channels"`
}

// ChannelInfo is the wire shape of a single channel entry in the list
// response. Validator fee/deposit fields arrive as decimal strings;
// callers convert to channel.Channel via ToChannel.
type ChannelInfo struct {
	ID            string    `json:"id"`
	DepositAsset  string    `json:"depositAsset"`
	DepositAmount string    `json:"depositAmount"`
	ValidUntil    time.Time `json:"validUntil"`
	Creator       string    `json:"creator"`
	Spec          struct {
		Validators [2]struct {
			ID  string `json:"id"`
			URL string `json:"url"`
			Fee string `json:"fee"`
		} `json:"validators"`
	} `json:"spec"`
}
