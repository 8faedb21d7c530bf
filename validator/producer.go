package validator

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/outpace-protocol/validator-worker/balance"
	"github.com/outpace-protocol/validator-worker/channel"
	"github.com/outpace-protocol/validator-worker/message"
	"github.com/outpace-protocol/validator-worker/sentry"
)

// ProducerResult is the outcome of a producer tick.
type ProducerResult struct {
	// NewStateTree is nil when the accounting balances didn't change.
	NewStateTree balance.Map
	BeforeFees   balance.Map
	LastEvAggr   time.Time
}

// RunProducerTick folds every unconsumed event aggregate since the
// channel's last Accounting record into a running balance map, using
// saturating addition clamped at the channel's deposit amount. It
// persists the updated Accounting record and returns the result.
//
// Idempotence: replaying the same aggregate set against the same starting
// Accounting always yields the same balances and never re-applies an
// aggregate twice, because the cursor (lastEvAggr) only ever advances to
// the latest aggregate actually folded in.
func RunProducerTick(ctx context.Context, s sentry.Sentry, c *channel.Channel, from string) (*ProducerResult, error) {
	current, err := loadAccounting(ctx, s, c.ID, from)
	if err != nil {
		return nil, errors.Wrap(err, "validator: load accounting")
	}

	aggregates, err := s.GetEventAggregates(ctx, c.ID, current.LastEvAggr)
	if err != nil {
		return nil, errors.Wrap(err, "validator: fetch event aggregates")
	}

	if len(aggregates) == 0 {
		return &ProducerResult{NewStateTree: nil, BeforeFees: current.Balances, LastEvAggr: current.LastEvAggr}, nil
	}

	balances := current.Balances.Clone()
	lastEvAggr := current.LastEvAggr

	for _, agg := range aggregates {
		for _, publisher := range sortedAggregatePublishers(agg) {
			entry := agg.Events[publisher]
			for _, amountStr := range entry.EventPayouts {
				amount, ok := new(big.Int).SetString(amountStr, 10)
				if !ok || amount.Sign() < 0 {
					continue
				}
				balances.SaturatingAdd(publisher, amount, c.DepositAmount)
			}
		}
		if agg.Created.After(lastEvAggr) {
			lastEvAggr = agg.Created
		}
	}

	accounting := message.Accounting{
		LastEvAggr:         lastEvAggr,
		Balances:           balances,
		BalancesBeforeFees: current.Balances,
	}

	if err := s.PersistAndPropagate(ctx, nil, c.ID, from, accounting); err != nil {
		return nil, errors.Wrap(err, "validator: persist accounting")
	}

	if balance.Equal(balances, current.Balances) {
		return &ProducerResult{NewStateTree: nil, BeforeFees: current.Balances, LastEvAggr: lastEvAggr}, nil
	}

	return &ProducerResult{NewStateTree: balances, BeforeFees: current.Balances, LastEvAggr: lastEvAggr}, nil
}

func sortedAggregatePublishers(agg sentry.EventAggregate) []string {
	out := make([]string, 0, len(agg.Events))
	for k := range agg.Events {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func loadAccounting(ctx context.Context, s sentry.Sentry, channelID, from string) (message.Accounting, error) {
	env, err := s.GetLatestMsg(ctx, channelID, from, message.TypeAccounting)
	if err != nil {
		return message.Accounting{}, err
	}
	if env == nil {
		return message.Accounting{Balances: balance.New(), BalancesBeforeFees: balance.New()}, nil
	}

	acc, ok := env.Msg.(message.Accounting)
	if !ok {
		return message.Accounting{}, errors.New("validator: latest Accounting message has wrong type")
	}
	if acc.Balances == nil {
		acc.Balances = balance.New()
	}
	return acc, nil
}
