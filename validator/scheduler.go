package validator

import (
	"context"
	"sync"
	"time"

	"github.com/heptio/workgroup"
	"github.com/phf/go-queue/queue"
	"github.com/pkg/errors"

	"github.com/outpace-protocol/validator-worker/adapter"
	"github.com/outpace-protocol/validator-worker/internal/log"
	"github.com/outpace-protocol/validator-worker/message"
	"github.com/outpace-protocol/validator-worker/metrics"
	"github.com/outpace-protocol/validator-worker/sentry"
)

// SchedulerConfig bounds how a Scheduler paces and parallelizes ticks
// across channels.
type SchedulerConfig struct {
	// TickTimeout bounds a single channel's tick (producer + leader/follower
	// + heartbeat combined).
	TickTimeout time.Duration
	// WaitTime is the delay between successive full passes over every
	// channel when run continuously.
	WaitTime time.Duration
	// HeartbeatInterval is passed through to RunHeartbeatTick.
	HeartbeatInterval time.Duration
	// MaxConcurrent bounds how many channel ticks run at once per pass.
	MaxConcurrent int
	// ListTimeout bounds the ListChannels call that starts each pass. Zero
	// means no timeout beyond ctx's own.
	ListTimeout time.Duration
	// MaxChannels is a warning threshold: a pass listing more channels than
	// this still runs, but logs a warning. Zero disables the check.
	MaxChannels int
	// HealthThresholdPromilles is passed through to RunFollowerTick's
	// IsHealthy check. Zero defaults to the package's HealthThresholdPromilles.
	HealthThresholdPromilles int
}

// Scheduler fans a tick out across every channel a validator participates
// in, once per pass, bounding concurrency with a fixed-size worker pool
// fed from a FIFO dispatch queue.
type Scheduler struct {
	sentry  sentry.Sentry
	adapter adapter.Adapter
	cfg     SchedulerConfig
}

// NewScheduler builds a Scheduler driving s and signing with a.
func NewScheduler(s sentry.Sentry, a adapter.Adapter, cfg SchedulerConfig) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.HealthThresholdPromilles <= 0 {
		cfg.HealthThresholdPromilles = HealthThresholdPromilles
	}
	return &Scheduler{sentry: s, adapter: a, cfg: cfg}
}

// RunOnce lists every channel the adapter's identity participates in and
// runs one tick on each, at most MaxConcurrent at a time. It returns the
// per-channel outcomes in no particular order; a single channel's error
// is logged and does not abort the others.
func (sch *Scheduler) RunOnce(ctx context.Context) ([]*Outcome, error) {
	identity := string(sch.adapter.WhoAmI())

	listCtx := ctx
	if sch.cfg.ListTimeout > 0 {
		var cancel context.CancelFunc
		listCtx, cancel = context.WithTimeout(ctx, sch.cfg.ListTimeout)
		defer cancel()
	}

	channels, err := sch.sentry.ListChannels(listCtx, identity)
	if err != nil {
		return nil, errors.Wrap(err, "scheduler: list channels")
	}

	if sch.cfg.MaxChannels > 0 && len(channels) > sch.cfg.MaxChannels {
		log.Warn().Int("channels", len(channels)).Int("maxChannels", sch.cfg.MaxChannels).
			Msg("Channel count exceeds configured warning threshold.")
	}

	pending := &dispatchQueue{q: queue.New()}
	for _, ci := range channels {
		pending.push(ci)
	}

	results := make([]*Outcome, 0, len(channels))
	resultsCh := make(chan *Outcome, len(channels))

	var g workgroup.Group
	for i := 0; i < sch.cfg.MaxConcurrent; i++ {
		g.Add(sch.worker(ctx, pending, resultsCh))
	}

	if err := g.Run(); err != nil {
		return nil, err
	}
	close(resultsCh)

	for r := range resultsCh {
		if r != nil {
			results = append(results, r)
		}
	}

	return results, nil
}

// dispatchQueue wraps a phf/go-queue/queue.Queue with a mutex: the
// underlying queue isn't safe for concurrent access, but a scheduler pass
// pops from it from every worker in the pool.
type dispatchQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func (d *dispatchQueue) push(v interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.q.PushBack(v)
}

func (d *dispatchQueue) pop() (interface{}, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.q.Len() == 0 {
		return nil, false
	}
	return d.q.PopFront(), true
}

func (sch *Scheduler) worker(ctx context.Context, pending *dispatchQueue, out chan<- *Outcome) func(stop <-chan struct{}) error {
	return func(stop <-chan struct{}) error {
		for {
			select {
			case <-stop:
				return nil
			default:
			}

			item, ok := pending.pop()
			if !ok {
				return nil
			}

			ci := item.(sentry.ChannelInfo)
			outcome, err := sch.tickChannel(ctx, ci)
			if err != nil {
				log.Channel(ci.ID).Error().Err(err).Msg("channel tick failed")
				continue
			}

			out <- outcome
		}
	}
}

// tickChannel runs one full tick (producer + leader-or-follower +
// heartbeat) for a single channel, bounded by TickTimeout.
func (sch *Scheduler) tickChannel(ctx context.Context, ci sentry.ChannelInfo) (*Outcome, error) {
	tickCtx := ctx
	var cancel context.CancelFunc
	if sch.cfg.TickTimeout > 0 {
		tickCtx, cancel = context.WithTimeout(ctx, sch.cfg.TickTimeout)
		defer cancel()
	}

	c, err := ci.ToChannel()
	if err != nil {
		return nil, errors.Wrap(err, "scheduler: convert channel info")
	}

	identity := string(sch.adapter.WhoAmI())
	isLeader := c.Leader().ID == identity

	role := "follower"
	if isLeader {
		role = "leader"
	}

	started := time.Now()

	var outcome *Outcome
	if isLeader {
		outcome, err = RunLeaderTick(tickCtx, sch.sentry, c, sch.adapter)
	} else {
		outcome, err = RunFollowerTick(tickCtx, sch.sentry, c, sch.adapter, sch.cfg.HealthThresholdPromilles)
	}
	if err != nil {
		return nil, err
	}

	if outcome == nil {
		interval := sch.cfg.HeartbeatInterval
		if interval <= 0 {
			interval = DefaultHeartbeatInterval
		}
		outcome, err = RunHeartbeatTick(tickCtx, sch.sentry, c, sch.adapter, interval, time.Now())
		if err != nil {
			return nil, err
		}
	}

	metrics.RecordTick(c.ID, role, time.Since(started))

	if outcome != nil {
		switch outcome.Emitted {
		case message.TypeHeartbeat:
			metrics.IncHeartbeat(c.ID)
		case message.TypeRejectState:
			metrics.IncRejected(c.ID)
		case message.TypeApproveState:
			metrics.SetHealth(c.ID, outcome.IsHealthy)
		}
	}

	return outcome, nil
}

// Run drives RunOnce continuously, sleeping WaitTime between passes, until
// ctx is canceled.
func (sch *Scheduler) Run(ctx context.Context) error {
	wait := sch.cfg.WaitTime
	if wait <= 0 {
		wait = time.Second
	}

	ticker := time.NewTicker(wait)
	defer ticker.Stop()

	for {
		if _, err := sch.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler pass failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
