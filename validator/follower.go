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

// RunFollowerTick runs the core reconciliation state machine:
//
//  1. If there's no fresh NewState (missing, or its stateRoot matches what
//     we already approved), fall through to a producer tick + heartbeat.
//  2. Otherwise validate the pending NewState against our own balance view
//     in strict order, rejecting (and persisting+propagating a
//     RejectState) on the first violation.
//  3. On success, sign the stateRoot and persist+propagate an
//     ApproveState carrying our health verdict.
func RunFollowerTick(ctx context.Context, s sentry.Sentry, c *channel.Channel, a adapter.Adapter, thresholdPromilles int) (*Outcome, error) {
	identity := string(a.WhoAmI())
	leaderIdentity := adapter.Identity(c.Leader().ID)

	newEnv, err := s.GetLatestMsg(ctx, c.ID, c.Leader().ID, message.TypeNewState)
	if err != nil {
		return nil, errors.Wrap(err, "validator: fetch latest NewState")
	}

	approveEnv, err := s.GetLatestMsg(ctx, c.ID, identity, message.TypeApproveState)
	if err != nil {
		return nil, errors.Wrap(err, "validator: fetch our latest ApproveState")
	}

	var approvedStateRoot string
	prevBalances := balance.New()

	if approveEnv != nil {
		approve, ok := approveEnv.Msg.(message.ApproveState)
		if !ok {
			return nil, errors.New("validator: latest ApproveState has wrong type")
		}
		approvedStateRoot = approve.StateRoot
		if approve.Balances != nil {
			prevBalances = approve.Balances
		}
	}

	if newEnv == nil || newEnv.Msg.(message.NewState).StateRoot == approvedStateRoot {
		// Nothing pending: run the producer tick to keep our own
		// accounting current, but emit no ApproveState.
		if _, err := RunProducerTick(ctx, s, c, identity); err != nil {
			return nil, err
		}
		return nil, nil
	}

	newState := newEnv.Msg.(message.NewState)

	ourResult, err := RunProducerTick(ctx, s, c, identity)
	if err != nil {
		return nil, err
	}

	ours := ourResult.NewStateTree
	if ours == nil {
		ours = ourResult.BeforeFees
	}

	next := newState.Balances

	if reason, ok := validateNewState(c, a, leaderIdentity, prevBalances, next, newState); !ok {
		reject := message.RejectState{Reason: reason, StateRoot: newState.StateRoot}
		if err := s.PersistAndPropagate(ctx, []channel.ValidatorDesc{c.Leader()}, c.ID, identity, reject); err != nil {
			return nil, errors.Wrap(err, "validator: persist/propagate RejectState")
		}
		return &Outcome{Emitted: message.TypeRejectState, StateRoot: newState.StateRoot, RejectedAs: reason}, nil
	}

	root, err := commitment.ParseHex(newState.StateRoot)
	if err != nil {
		return nil, err
	}

	sig, err := a.Sign(ctx, root[:])
	if err != nil {
		return nil, errors.Wrap(err, "validator: sign state root")
	}

	healthy := IsHealthy(ours, next, thresholdPromilles)

	approve := message.ApproveState{
		StateRoot: newState.StateRoot,
		Signature: string(sig),
		IsHealthy: healthy,
		Balances:  next,
	}

	if err := s.PersistAndPropagate(ctx, []channel.ValidatorDesc{c.Leader()}, c.ID, identity, approve); err != nil {
		return nil, errors.Wrap(err, "validator: persist/propagate ApproveState")
	}

	return &Outcome{Emitted: message.TypeApproveState, StateRoot: approve.StateRoot, IsHealthy: healthy}, nil
}

// validateNewState runs the ordered acceptance checks against a pending
// NewState, returning the first violated reason, or ("", true) on success.
func validateNewState(c *channel.Channel, a adapter.Adapter, leaderIdentity adapter.Identity, prev, next balance.Map, newState message.NewState) (message.RejectReason, bool) {
	if !IsValidTransition(c, prev, next) {
		return message.ReasonInvalidTransition, false
	}

	expectedAfterFees := balance.AfterFees(next, c.DepositAmount, c.FeeRecipients())
	if !balance.Equal(expectedAfterFees, newState.BalancesAfterFees) {
		return message.ReasonInvalidValidatorFees, false
	}

	root, err := commitment.ParseHex(newState.StateRoot)
	if err != nil {
		return message.ReasonInvalidRootHash, false
	}
	if !commitment.IsValidRootHash(root, c.ID, newState.BalancesAfterFees) {
		return message.ReasonInvalidRootHash, false
	}

	ok, err := a.Verify(leaderIdentity, root[:], adapter.Signature(newState.Signature))
	if err != nil || !ok {
		return message.ReasonInvalidSignature, false
	}

	return "", true
}
