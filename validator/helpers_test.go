package validator_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outpace-protocol/validator-worker/channel"
	"github.com/outpace-protocol/validator-worker/sentry"
	"github.com/outpace-protocol/validator-worker/sentry/testserver"
)

// channelWithServers bundles a channel with two independent test sentries,
// one per validator, wired with each other's real listener addresses so
// propagation actually crosses between them over HTTP.
type channelWithServers struct {
	Channel     *channel.Channel
	Leader      *testserver.Server
	Follower    *testserver.Server
	LeaderAPI   *sentry.Client
	FollowerAPI *sentry.Client
}

func newTestChannelWithURLs(t *testing.T, leaderURL, followerURL string) *channel.Channel {
	t.Helper()
	c, err := channel.New(
		"chan1", "DAI", big.NewInt(1000), time.Now().Add(time.Hour), "creator",
		[2]channel.ValidatorDesc{
			{ID: "leader", URL: leaderURL, Fee: big.NewInt(0)},
			{ID: "follower", URL: followerURL, Fee: big.NewInt(0)},
		},
	)
	require.NoError(t, err)
	return c
}
