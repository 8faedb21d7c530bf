package validator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpace-protocol/validator-worker/message"
	"github.com/outpace-protocol/validator-worker/sentry"
	"github.com/outpace-protocol/validator-worker/sentry/testserver"
	"github.com/outpace-protocol/validator-worker/validator"
)

func TestProducerTickNoAggregatesReturnsNilTree(t *testing.T) {
	srv, err := testserver.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	c := newTestChannel(t, 0, 0)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	result, err := validator.RunProducerTick(context.Background(), client, c, "leader")
	require.NoError(t, err)
	assert.Nil(t, result.NewStateTree)
}

func TestProducerTickFoldsEventsIntoBalances(t *testing.T) {
	srv, err := testserver.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	c := newTestChannel(t, 0, 0)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	require.NoError(t, srv.PushEvents(sentry.EventAggregate{
		ChannelID: c.ID,
		Created:   time.Now(),
		Events: map[string]sentry.EventAggregateEntry{
			"pub1": {EventPayouts: map[string]string{"IMPRESSION": "10", "CLICK": "5"}},
			"pub2": {EventPayouts: map[string]string{"IMPRESSION": "7"}},
		},
	}))

	result, err := validator.RunProducerTick(context.Background(), client, c, "leader")
	require.NoError(t, err)
	require.NotNil(t, result.NewStateTree)
	assert.Equal(t, "15", result.NewStateTree.Get("pub1").String())
	assert.Equal(t, "7", result.NewStateTree.Get("pub2").String())
}

func TestProducerTickClampsAtDeposit(t *testing.T) {
	srv, err := testserver.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	c := newTestChannel(t, 0, 0)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	require.NoError(t, srv.PushEvents(sentry.EventAggregate{
		ChannelID: c.ID,
		Created:   time.Now(),
		Events: map[string]sentry.EventAggregateEntry{
			"pub1": {EventPayouts: map[string]string{"IMPRESSION": "1500"}},
		},
	}))

	result, err := validator.RunProducerTick(context.Background(), client, c, "leader")
	require.NoError(t, err)
	require.NotNil(t, result.NewStateTree)
	assert.Equal(t, c.DepositAmount.String(), result.NewStateTree.Get("pub1").String())
}

func TestProducerTickIsIdempotentOnSecondCallWithoutNewAggregates(t *testing.T) {
	srv, err := testserver.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	c := newTestChannel(t, 0, 0)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	require.NoError(t, srv.PushEvents(sentry.EventAggregate{
		ChannelID: c.ID,
		Created:   time.Now(),
		Events: map[string]sentry.EventAggregateEntry{
			"pub1": {EventPayouts: map[string]string{"IMPRESSION": "20"}},
		},
	}))

	first, err := validator.RunProducerTick(context.Background(), client, c, "leader")
	require.NoError(t, err)
	require.NotNil(t, first.NewStateTree)

	second, err := validator.RunProducerTick(context.Background(), client, c, "leader")
	require.NoError(t, err)
	assert.Nil(t, second.NewStateTree)
	assert.Equal(t, "20", second.BeforeFees.Get("pub1").String())
}

func TestProducerTickDoesNotDoubleApplySameAggregateAcrossTicks(t *testing.T) {
	srv, err := testserver.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	c := newTestChannel(t, 0, 0)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	agg := sentry.EventAggregate{
		ChannelID: c.ID,
		Created:   time.Now(),
		Events: map[string]sentry.EventAggregateEntry{
			"pub1": {EventPayouts: map[string]string{"IMPRESSION": "9"}},
		},
	}
	require.NoError(t, srv.PushEvents(agg))

	_, err = validator.RunProducerTick(context.Background(), client, c, "leader")
	require.NoError(t, err)

	require.NoError(t, srv.PushEvents(sentry.EventAggregate{
		ChannelID: c.ID,
		Created:   time.Now().Add(time.Millisecond),
		Events: map[string]sentry.EventAggregateEntry{
			"pub1": {EventPayouts: map[string]string{"IMPRESSION": "3"}},
		},
	}))

	result, err := validator.RunProducerTick(context.Background(), client, c, "leader")
	require.NoError(t, err)
	require.NotNil(t, result.NewStateTree)
	assert.Equal(t, "12", result.NewStateTree.Get("pub1").String())
}

func TestProducerTickPersistsAccountingRecord(t *testing.T) {
	srv, err := testserver.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	c := newTestChannel(t, 0, 0)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	require.NoError(t, srv.PushEvents(sentry.EventAggregate{
		ChannelID: c.ID,
		Created:   time.Now(),
		Events: map[string]sentry.EventAggregateEntry{
			"pub1": {EventPayouts: map[string]string{"IMPRESSION": "4"}},
		},
	}))

	_, err = validator.RunProducerTick(context.Background(), client, c, "leader")
	require.NoError(t, err)

	env, err := client.GetLatestMsg(context.Background(), c.ID, "leader", message.TypeAccounting)
	require.NoError(t, err)
	require.NotNil(t, env)
	acc, ok := env.Msg.(message.Accounting)
	require.True(t, ok)
	assert.Equal(t, "4", acc.Balances.Get("pub1").String())
}

func TestProducerTickIgnoresNegativeAndMalformedPayouts(t *testing.T) {
	srv, err := testserver.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	c := newTestChannel(t, 0, 0)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	require.NoError(t, srv.PushEvents(sentry.EventAggregate{
		ChannelID: c.ID,
		Created:   time.Now(),
		Events: map[string]sentry.EventAggregateEntry{
			"pub1": {EventPayouts: map[string]string{
				"IMPRESSION": "-5",
				"CLICK":      "not-a-number",
				"VIEW":       "6",
			}},
		},
	}))

	result, err := validator.RunProducerTick(context.Background(), client, c, "leader")
	require.NoError(t, err)
	require.NotNil(t, result.NewStateTree)
	assert.Equal(t, "6", result.NewStateTree.Get("pub1").String())
}
