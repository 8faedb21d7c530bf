package validator

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/outpace-protocol/validator-worker/adapter"
	"github.com/outpace-protocol/validator-worker/channel"
	"github.com/outpace-protocol/validator-worker/commitment"
	"github.com/outpace-protocol/validator-worker/message"
	"github.com/outpace-protocol/validator-worker/sentry"
)

// DefaultHeartbeatInterval is how long a validator may stay silent before
// it must emit a liveness signal even when there's nothing new to report.
const DefaultHeartbeatInterval = 30 * time.Second

// zeroStateRoot is the placeholder root signed by a Heartbeat: it carries
// no balance claim, only a timestamped proof of life.
var zeroStateRoot [commitment.Size]byte

// RunHeartbeatTick emits a Heartbeat to the channel's other validator if
// more than interval has elapsed since our last one. Call this after a
// leader or follower tick that produced no NewState/ApproveState/
// RejectState, so a validator never goes silent for longer than interval
// even on an idle channel.
func RunHeartbeatTick(ctx context.Context, s sentry.Sentry, c *channel.Channel, a adapter.Adapter, interval time.Duration, now time.Time) (*Outcome, error) {
	identity := string(a.WhoAmI())

	last, err := s.GetLatestMsg(ctx, c.ID, identity, message.TypeHeartbeat)
	if err != nil {
		return nil, errors.Wrap(err, "validator: fetch our latest Heartbeat")
	}

	if last != nil {
		hb, ok := last.Msg.(message.Heartbeat)
		if ok && now.Sub(hb.Timestamp) < interval {
			return nil, nil
		}
	}

	payload := append(append([]byte{}, zeroStateRoot[:]...), []byte(now.UTC().Format(time.RFC3339Nano))...)
	payload = append(payload, []byte(c.ID)...)

	sig, err := a.Sign(ctx, payload)
	if err != nil {
		return nil, errors.Wrap(err, "validator: sign heartbeat")
	}

	heartbeat := message.Heartbeat{
		StateRoot: commitment.String(zeroStateRoot),
		Signature: string(sig),
		Timestamp: now,
	}

	peer := c.Leader()
	if c.Leader().ID == identity {
		peer = c.Follower()
	}

	if err := s.PersistAndPropagate(ctx, []channel.ValidatorDesc{peer}, c.ID, identity, heartbeat); err != nil {
		return nil, errors.Wrap(err, "validator: persist/propagate Heartbeat")
	}

	return &Outcome{Emitted: message.TypeHeartbeat}, nil
}
