package sentry_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpace-protocol/validator-worker/message"
	"github.com/outpace-protocol/validator-worker/sentry"
	"github.com/outpace-protocol/validator-worker/sentry/testserver"
)

func newTestServer(t *testing.T) *testserver.Server {
	t.Helper()
	srv, err := testserver.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestListChannels(t *testing.T) {
	srv := newTestServer(t)

	info := sentry.ChannelInfo{ID: "chan1", DepositAsset: "DAI", DepositAmount: "1000", ValidUntil: time.Now().Add(time.Hour)}
	info.Spec.Validators[0].ID = "leader"
	info.Spec.Validators[1].ID = "follower"
	require.NoError(t, srv.PutChannel(info))

	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)
	channels, err := client.ListChannels(context.Background(), "leader")
	require.NoError(t, err)
	assert.Len(t, channels, 1)
	assert.Equal(t, "chan1", channels[0].ID)

	none, err := client.ListChannels(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Len(t, none, 0)
}

func TestPersistAndGetLatestMsg(t *testing.T) {
	srv := newTestServer(t)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	ns := message.NewState{StateRoot: "ab", Signature: "sig"}
	err := client.PersistAndPropagate(context.Background(), nil, "chan1", "leader", ns)
	require.NoError(t, err)

	env, err := client.GetLatestMsg(context.Background(), "chan1", "leader", message.TypeNewState)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "ab", env.Msg.(message.NewState).StateRoot)
}

func TestGetLatestMsgReturnsNilWhenAbsent(t *testing.T) {
	srv := newTestServer(t)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	env, err := client.GetLatestMsg(context.Background(), "chan1", "leader", message.TypeNewState)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestGetLatestMsgReturnsNewestOfSeveral(t *testing.T) {
	srv := newTestServer(t)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	require.NoError(t, client.PersistAndPropagate(context.Background(), nil, "chan1", "leader", message.NewState{StateRoot: "first"}))
	require.NoError(t, client.PersistAndPropagate(context.Background(), nil, "chan1", "leader", message.NewState{StateRoot: "second"}))

	env, err := client.GetLatestMsg(context.Background(), "chan1", "leader", message.TypeNewState)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "second", env.Msg.(message.NewState).StateRoot)
}

func TestGetLastApproved(t *testing.T) {
	srv := newTestServer(t)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	require.NoError(t, client.PersistAndPropagate(context.Background(), nil, "chan1", "leader", message.NewState{StateRoot: "root1"}))

	followerClient := sentry.NewClient(srv.Addr, "follower", 1000, 10)
	require.NoError(t, followerClient.PersistAndPropagate(context.Background(), nil, "chan1", "follower", message.ApproveState{StateRoot: "root1", IsHealthy: true}))

	la, err := client.GetLastApproved(context.Background(), "chan1")
	require.NoError(t, err)
	require.NotNil(t, la.NewState)
	require.NotNil(t, la.ApproveState)
	assert.Equal(t, "root1", la.NewState.Msg.(message.NewState).StateRoot)
}

func TestEventAggregatesAfterCursor(t *testing.T) {
	srv := newTestServer(t)
	client := sentry.NewClient(srv.Addr, "leader", 1000, 10)

	t0 := time.Now().Add(-time.Hour).UTC()
	t1 := time.Now().UTC()

	require.NoError(t, srv.PushEvents(sentry.EventAggregate{
		ChannelID: "chan1",
		Created:   t0,
		Events: map[string]sentry.EventAggregateEntry{
			"pub1": {EventPayouts: map[string]string{"IMPRESSION": "1"}},
		},
	}))
	require.NoError(t, srv.PushEvents(sentry.EventAggregate{
		ChannelID: "chan1",
		Created:   t1,
		Events: map[string]sentry.EventAggregateEntry{
			"pub1": {EventPayouts: map[string]string{"IMPRESSION": "2"}},
		},
	}))

	aggs, err := client.GetEventAggregates(context.Background(), "chan1", t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, "2", aggs[0].Events["pub1"].EventPayouts["IMPRESSION"])
}

func TestConvertChannelInfoToChannel(t *testing.T) {
	info := sentry.ChannelInfo{ID: "chan1", DepositAsset: "DAI", DepositAmount: "1000", ValidUntil: time.Now().Add(time.Hour), Creator: "creator"}
	info.Spec.Validators[0] = struct {
		ID  string `json:"id"`
		URL string `json:"url"`
		Fee string `json:"fee"`
	}{"leader", "http://leader", "0"}
	info.Spec.Validators[1] = struct {
		ID  string `json:"id"`
		URL string `json:"url"`
		Fee string `json:"fee"`
	}{"follower", "http://follower", "0"}

	c, err := info.ToChannel()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000).String(), c.DepositAmount.String())
}
