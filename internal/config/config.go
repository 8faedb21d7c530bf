// Package config assembles process-wide settings into a single immutable
// Config value, bound once at startup from command-line flags (via pflag)
// and environment variables (via viper), rather than read piecemeal as
// global mutable state throughout the codebase.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var envReplacer = strings.NewReplacer("-", "_")

// Config is the fully-resolved, immutable process configuration. Every
// field here has a corresponding CLI flag and/or environment variable;
// once Load returns, nothing in the process re-reads viper or the
// environment directly.
type Config struct {
	// TickTimeout bounds a single channel's tick. VALIDATOR_TICK_TIMEOUT.
	TickTimeout time.Duration
	// WaitTime is the delay between successive scheduler passes. WAIT_TIME.
	WaitTime time.Duration
	// ListTimeout bounds the ListChannels call that starts each pass. LIST_TIMEOUT.
	ListTimeout time.Duration
	// HealthThresholdPromilles is the minimum promille overlap between our
	// and the peer's approved balances for a channel to be healthy.
	// HEALTH_THRESHOLD_PROMILLES.
	HealthThresholdPromilles int
	// HeartbeatTime is how long a validator may stay silent before it must
	// emit a liveness Heartbeat. HEARTBEAT_TIME.
	HeartbeatTime time.Duration
	// MaxChannels is a warning threshold: exceeding it doesn't stop the
	// worker, but is logged, since scheduler passes degrade linearly with
	// channel count under a fixed concurrency cap. MAX_CHANNELS.
	MaxChannels int
}

// Defaults mirror the values named in the configuration keys table:
// VALIDATOR_TICK_TIMEOUT=5s, WAIT_TIME=1s, LIST_TIMEOUT=5s,
// HEALTH_THRESHOLD_PROMILLES=950, HEARTBEAT_TIME=30s, MAX_CHANNELS=1000.
const (
	DefaultTickTimeout              = 5 * time.Second
	DefaultWaitTime                 = 1 * time.Second
	DefaultListTimeout              = 5 * time.Second
	DefaultHealthThresholdPromilles = 950
	DefaultHeartbeatTime            = 30 * time.Second
	DefaultMaxChannels              = 1000
)

// BindFlags registers every configuration flag onto fs, so a CLI layer
// (e.g. urfave/cli's flag set) and viper agree on names and defaults.
func BindFlags(fs *pflag.FlagSet) {
	fs.Duration("tick-timeout", DefaultTickTimeout, "bound on a single channel's tick (VALIDATOR_TICK_TIMEOUT)")
	fs.Duration("wait-time", DefaultWaitTime, "delay between scheduler passes (WAIT_TIME)")
	fs.Duration("list-timeout", DefaultListTimeout, "bound on listing channels each pass (LIST_TIMEOUT)")
	fs.Int("health-threshold-promilles", DefaultHealthThresholdPromilles, "minimum promille balance overlap considered healthy (HEALTH_THRESHOLD_PROMILLES)")
	fs.Duration("heartbeat-time", DefaultHeartbeatTime, "max silence before a liveness Heartbeat is due (HEARTBEAT_TIME)")
	fs.Int("max-channels", DefaultMaxChannels, "warning threshold for channel count (MAX_CHANNELS)")
}

// Load binds fs (already parsed) and the process environment into a
// Config. Environment variables take the flag name, upper-cased with
// dashes replaced by underscores and no further prefix, e.g.
// --tick-timeout / TICK_TIMEOUT. --tick-timeout is also read from
// VALIDATOR_TICK_TIMEOUT (TICK_TIMEOUT wins if both are set).
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("tick-timeout", "VALIDATOR_TICK_TIMEOUT"); err != nil {
		return Config{}, err
	}

	return Config{
		TickTimeout:              v.GetDuration("tick-timeout"),
		WaitTime:                 v.GetDuration("wait-time"),
		ListTimeout:              v.GetDuration("list-timeout"),
		HealthThresholdPromilles: v.GetInt("health-threshold-promilles"),
		HeartbeatTime:            v.GetDuration("heartbeat-time"),
		MaxChannels:              v.GetInt("max-channels"),
	}, nil
}
