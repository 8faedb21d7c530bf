// Package metrics exposes per-channel tick timers, heartbeat counters, and
// a health gauge through a single process-wide go-metrics registry.
package metrics

import (
	"fmt"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

var registry = gometrics.NewRegistry()

// Registry returns the process-wide metrics registry, e.g. for a reporter
// goroutine to periodically log or export.
func Registry() gometrics.Registry {
	return registry
}

// RecordTick records how long a leader or follower tick took for a
// channel, under "<channelId>.tick.<role>".
func RecordTick(channelID, role string, d time.Duration) {
	name := fmt.Sprintf("%s.tick.%s", channelID, role)
	timer := gometrics.GetOrRegisterTimer(name, registry)
	timer.Update(d)
}

// IncHeartbeat increments the count of heartbeats emitted for a channel,
// under "<channelId>.heartbeat".
func IncHeartbeat(channelID string) {
	name := fmt.Sprintf("%s.heartbeat", channelID)
	counter := gometrics.GetOrRegisterCounter(name, registry)
	counter.Inc(1)
}

// IncRejected increments the count of NewState proposals a channel has
// rejected, under "<channelId>.rejected".
func IncRejected(channelID string) {
	name := fmt.Sprintf("%s.rejected", channelID)
	counter := gometrics.GetOrRegisterCounter(name, registry)
	counter.Inc(1)
}

// SetHealth records the latest health verdict for a channel as a 0/1
// gauge, under "<channelId>.healthy".
func SetHealth(channelID string, healthy bool) {
	name := fmt.Sprintf("%s.healthy", channelID)
	gauge := gometrics.GetOrRegisterGauge(name, registry)
	if healthy {
		gauge.Update(1)
	} else {
		gauge.Update(0)
	}
}

// TickSnapshot is a point-in-time read of a channel's recorded tick timer.
type TickSnapshot struct {
	Count int64
	Mean  float64
	P99   float64
}

// Snapshot reads back the current timer stats for a channel/role pair, for
// the operator console's "channels" command.
func Snapshot(channelID, role string) TickSnapshot {
	name := fmt.Sprintf("%s.tick.%s", channelID, role)
	timer := gometrics.GetOrRegisterTimer(name, registry)
	ps := timer.Percentiles([]float64{0.99})
	return TickSnapshot{
		Count: timer.Count(),
		Mean:  timer.Mean(),
		P99:   ps[0],
	}
}

// IsHealthy reads back the last health verdict recorded for a channel.
// A channel with no recorded verdict yet reads as unhealthy.
func IsHealthy(channelID string) bool {
	name := fmt.Sprintf("%s.healthy", channelID)
	gauge := gometrics.GetOrRegisterGauge(name, registry)
	return gauge.Value() != 0
}
