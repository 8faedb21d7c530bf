package validator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/outpace-protocol/validator-worker/adapter"
	"github.com/outpace-protocol/validator-worker/balance"
	"github.com/outpace-protocol/validator-worker/channel"
	"github.com/outpace-protocol/validator-worker/commitment"
	"github.com/outpace-protocol/validator-worker/message"
	"github.com/outpace-protocol/validator-worker/sentry"
)

// Outcome summarizes what, if anything, a tick emitted — used by the
// scheduler for logging/metrics and by tests asserting on scenario
// behavior.
type Outcome struct {
	Emitted    message.Type
	StateRoot  string
	RejectedAs message.RejectReason
	// IsHealthy is only meaningful when Emitted == message.TypeApproveState.
	IsHealthy bool
}

// RunLeaderTick runs the producer, then compares our current balance tree
// (the producer's result, or the unchanged accounting balances if it folded
// nothing new this tick) against our own last NewState, signing and
// propagating a new one whenever they differ. Comparing unconditionally
// (rather than only when the producer folded new aggregates) matters on the
// restart/partial-failure path: the producer persists its Accounting before
// a NewState is signed and propagated, so a signing or propagation failure
// must still be retried on the next tick even though the producer itself has
// nothing new to fold. The leader never emits ApproveState and never
// rejects; it unilaterally advances.
func RunLeaderTick(ctx context.Context, s sentry.Sentry, c *channel.Channel, a adapter.Adapter) (*Outcome, error) {
	identity := string(a.WhoAmI())

	result, err := RunProducerTick(ctx, s, c, identity)
	if err != nil {
		return nil, err
	}

	current := result.NewStateTree
	if current == nil {
		current = result.BeforeFees
	}

	ourLatest, err := s.GetOurLatestMsg(ctx, c.ID, []message.Type{message.TypeNewState})
	if err != nil {
		return nil, errors.Wrap(err, "validator: fetch our latest NewState")
	}

	if ourLatest != nil {
		ns, ok := ourLatest.Msg.(message.NewState)
		if ok && balance.Equal(ns.Balances, current) {
			return nil, nil
		}
	} else if current.Sum().Sign() == 0 {
		// Nothing has ever been proposed and there's nothing to propose.
		return nil, nil
	}

	afterFees := balance.AfterFees(current, c.DepositAmount, c.FeeRecipients())
	root := commitment.Root(c.ID, afterFees)

	sig, err := a.Sign(ctx, root[:])
	if err != nil {
		return nil, errors.Wrap(err, "validator: sign state root")
	}

	newState := message.NewState{
		StateRoot:         commitment.String(root),
		Signature:         string(sig),
		Balances:          current,
		BalancesAfterFees: afterFees,
	}

	if err := s.PersistAndPropagate(ctx, []channel.ValidatorDesc{c.Follower()}, c.ID, identity, newState); err != nil {
		return nil, errors.Wrap(err, "validator: persist/propagate NewState")
	}

	return &Outcome{Emitted: message.TypeNewState, StateRoot: newState.StateRoot}, nil
}
