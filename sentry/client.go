// Package sentry implements the client interface for the external sentry
// HTTP service: fetching channels and validator messages, and
// persisting/propagating new ones. Client is the real fasthttp-backed
// implementation; sentry/testserver provides an in-process double for
// integration tests.
package sentry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/outpace-protocol/validator-worker/channel"
	"github.com/outpace-protocol/validator-worker/internal/log"
	"github.com/outpace-protocol/validator-worker/message"
)

// Sentry is the set of operations leader/follower ticks need from the
// sentry service.
type Sentry interface {
	GetLatestMsg(ctx context.Context, channelID, from string, msgType message.Type) (*message.Envelope, error)
	GetOurLatestMsg(ctx context.Context, channelID string, types []message.Type) (*message.Envelope, error)
	GetLastApproved(ctx context.Context, channelID string) (*LastApproved, error)
	Propagate(ctx context.Context, validators []channel.ValidatorDesc, channelID string, msg message.Message) error
	PersistAndPropagate(ctx context.Context, otherValidators []channel.ValidatorDesc, channelID string, from string, msg message.Message) error
	GetEventAggregates(ctx context.Context, channelID string, afterCursor time.Time) ([]EventAggregate, error)
	ListChannels(ctx context.Context, validatorID string) ([]ChannelInfo, error)
}

// Client is the production Sentry implementation: an HTTP client talking
// to one local sentry instance, used both for our own reads/writes and to
// propagate messages to peer validators' sentries.
type Client struct {
	baseURL string
	from    string

	http    *fasthttp.Client
	limiter *rate.Limiter
}

// NewClient builds a Client against the sentry at baseURL, identifying our
// own outgoing writes as `from`. Outbound requests are paced by a token
// bucket (ratePerSecond, burst) to avoid hammering the sentry.
func NewClient(baseURL, from string, ratePerSecond float64, burst int) *Client {
	return &Client{
		baseURL: baseURL,
		from:    from,
		http:    &fasthttp.Client{},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "sentry: rate limit wait")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "sentry: marshal request body")
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return errors.Wrapf(err, "sentry: %s %s", method, path)
	}

	if resp.StatusCode() >= 300 {
		return errors.Errorf("sentry: %s %s returned status %d", method, path, resp.StatusCode())
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "sentry: decode response for %s %s", method, path)
	}

	return nil
}

type envelopeWire struct {
	ChannelID string          `json:"channelId"`
	From      string          `json:"from"`
	Received  time.Time       `json:"received"`
	Seq       uint64          `json:"seq"`
	Msg       json.RawMessage `json:"msg"`
}

func decodeEnvelope(w envelopeWire) (*message.Envelope, error) {
	msg, err := message.Decode(w.Msg)
	if err != nil {
		return nil, err
	}
	return &message.Envelope{
		ChannelID: w.ChannelID,
		From:      w.From,
		Received:  w.Received,
		Seq:       w.Seq,
		Msg:       msg,
	}, nil
}

// GetLatestMsg returns the newest message of msgType emitted by `from` on
// channelID, or nil if none exists.
func (c *Client) GetLatestMsg(ctx context.Context, channelID, from string, msgType message.Type) (*message.Envelope, error) {
	path := fmt.Sprintf("/channel/%s/validator-messages?from=%s&type=%s&limit=1", channelID, from, msgType)

	var out struct {
		Messages []envelopeWire `json:"messages"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	return decodeEnvelope(out.Messages[0])
}

// GetOurLatestMsg is a convenience for fetching our own newest message
// across several candidate types, used by the leader tick.
func (c *Client) GetOurLatestMsg(ctx context.Context, channelID string, types []message.Type) (*message.Envelope, error) {
	var newest *message.Envelope

	for _, t := range types {
		env, err := c.GetLatestMsg(ctx, channelID, c.from, t)
		if err != nil {
			return nil, err
		}
		if env == nil {
			continue
		}
		if newest == nil || env.Seq > newest.Seq {
			newest = env
		}
	}

	return newest, nil
}

// GetLastApproved fetches the latest mutually-agreed NewState/ApproveState
// pair.
func (c *Client) GetLastApproved(ctx context.Context, channelID string) (*LastApproved, error) {
	path := fmt.Sprintf("/channel/%s/last-approved", channelID)

	var out struct {
		NewState     *envelopeWire `json:"newState"`
		ApproveState *envelopeWire `json:"approveState"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	result := &LastApproved{}
	if out.NewState != nil {
		env, err := decodeEnvelope(*out.NewState)
		if err != nil {
			return nil, err
		}
		result.NewState = env
	}
	if out.ApproveState != nil {
		env, err := decodeEnvelope(*out.ApproveState)
		if err != nil {
			return nil, err
		}
		result.ApproveState = env
	}

	return result, nil
}

// Propagate POSTs msg to every validator's sentry except ourselves.
// Every peer is attempted even if an earlier one fails; each per-peer
// failure is logged, and the last one is returned (nil if all succeeded).
func (c *Client) Propagate(ctx context.Context, validators []channel.ValidatorDesc, channelID string, msg message.Message) error {
	payload, err := message.Encode(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for _, v := range validators {
		if v.ID == c.from {
			continue
		}
		if err := c.propagateTo(ctx, v.URL, channelID, payload); err != nil {
			log.Channel(channelID).Warn().Err(err).Str("peer", v.ID).Msg("Propagation to peer failed.")
			lastErr = err
		}
	}

	return lastErr
}

func (c *Client) propagateTo(ctx context.Context, peerURL, channelID string, payload []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/channel/%s/validator-messages?from=%s", peerURL, channelID, c.from))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")

	envelope := map[string]json.RawMessage{"messages": mustWrapArray(payload)}
	body, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "sentry: marshal propagate body")
	}
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return errors.Wrapf(err, "sentry: propagate to %s", peerURL)
	}
	if resp.StatusCode() >= 300 {
		return errors.Errorf("sentry: propagate to %s returned status %d", peerURL, resp.StatusCode())
	}

	return nil
}

func mustWrapArray(single json.RawMessage) json.RawMessage {
	out, _ := json.Marshal([]json.RawMessage{single})
	return out
}

// PersistAndPropagate writes msg to our own sentry first, then propagates
// it to the other validators. The local write must succeed before
// propagation is attempted; propagation failures never undo the local
// write and are not returned (Propagate logs them), so only a failed local
// write is an error.
func (c *Client) PersistAndPropagate(ctx context.Context, otherValidators []channel.ValidatorDesc, channelID string, from string, msg message.Message) error {
	if err := c.persist(ctx, channelID, from, msg); err != nil {
		return errors.Wrap(err, "sentry: local persist")
	}

	_ = c.Propagate(ctx, otherValidators, channelID, msg)

	return nil
}

func (c *Client) persist(ctx context.Context, channelID, from string, msg message.Message) error {
	payload, err := message.Encode(msg)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/channel/%s/validator-messages?from=%s", channelID, from)
	body := map[string]json.RawMessage{"messages": mustWrapArray(payload)}

	return c.doJSON(ctx, fasthttp.MethodPost, path, body, nil)
}

// GetEventAggregates returns unconsumed aggregates for channelID created
// after afterCursor, in cursor order.
func (c *Client) GetEventAggregates(ctx context.Context, channelID string, afterCursor time.Time) ([]EventAggregate, error) {
	path := fmt.Sprintf("/channel/%s/events/aggregates?after=%s", channelID, afterCursor.UTC().Format(time.RFC3339Nano))

	var out struct {
		Aggregates []EventAggregate `json:"aggregates"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	return out.Aggregates, nil
}

// ListChannels returns every channel where validatorID appears as leader
// or follower.
func (c *Client) ListChannels(ctx context.Context, validatorID string) ([]ChannelInfo, error) {
	path := fmt.Sprintf("/channel/list?validator=%s", validatorID)

	var out ChannelListResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	return out.Channels, nil
}

var _ Sentry = (*Client)(nil)
