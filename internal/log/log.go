// Package log provides the structured logger shared by every package in
// the validator worker. All call sites chain field setters onto a
// zerolog.Event and finish with Msg/Msgf, mirroring the calling convention
// used throughout the rest of the codebase.
package log

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

// Configure replaces the global logger, e.g. to switch to JSON output in
// production or to raise the level. Safe to call once at startup.
func Configure(jsonOutput bool, level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()

	if jsonOutput {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)
	}
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug() *zerolog.Event { l := current(); return l.Debug() }
func Info() *zerolog.Event  { l := current(); return l.Info() }
func Warn() *zerolog.Event  { l := current(); return l.Warn() }
func Error() *zerolog.Event { l := current(); return l.Error() }
func Fatal() *zerolog.Event { l := current(); return l.Fatal() }

// Channel returns a logger pre-tagged with the channel_id field, the key
// every per-channel log line in this codebase is keyed by.
func Channel(channelID string) zerolog.Logger {
	return current().With().Str("channel_id", channelID).Logger()
}
