// Package console implements a line-oriented operator REPL for inspecting
// a running validator worker: channel list, per-channel health/tick
// status, and a clean quit. It's an optional surface, started only when
// the operator asks for it.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/outpace-protocol/validator-worker/adapter"
	"github.com/outpace-protocol/validator-worker/metrics"
	"github.com/outpace-protocol/validator-worker/sentry"
)

// Console is a readline-backed REPL driven against a Sentry and an
// Adapter's identity.
type Console struct {
	sentry  sentry.Sentry
	adapter adapter.Adapter
}

// New builds a Console.
func New(s sentry.Sentry, a adapter.Adapter) *Console {
	return &Console{sentry: s, adapter: a}
}

// Run reads commands from stdin until EOF, Ctrl-D, or "quit"/"exit". It
// understands "status", "channels", and "help"; anything else prints a
// usage hint.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.New("validator> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "status":
			c.printStatus(ctx)
		case "channels":
			c.printChannels(ctx)
		case "quit", "exit":
			return nil
		case "help":
			printHelp()
		default:
			fmt.Println("unknown command; try: status, channels, quit")
		}
	}
}

func printHelp() {
	fmt.Println("commands:")
	fmt.Println("  status    - print this validator's identity and channel count")
	fmt.Println("  channels  - list channels and their health")
	fmt.Println("  quit      - exit the console")
}

// Status returns this validator's identity and how many channels it
// currently participates in.
func (c *Console) Status(ctx context.Context) (identity string, channelCount int, err error) {
	identity = string(c.adapter.WhoAmI())

	channels, err := c.sentry.ListChannels(ctx, identity)
	if err != nil {
		return identity, 0, err
	}

	return identity, len(channels), nil
}

// ChannelLine is one rendered row of the "channels" command: a channel's
// id, this validator's role on it, and its latest tick/health readout.
type ChannelLine struct {
	ChannelID string
	Role      string
	Healthy   bool
	Ticks     int64
	MeanMs    float64
}

// ChannelLines returns one ChannelLine per channel this validator
// participates in.
func (c *Console) ChannelLines(ctx context.Context) ([]ChannelLine, error) {
	identity := string(c.adapter.WhoAmI())

	channels, err := c.sentry.ListChannels(ctx, identity)
	if err != nil {
		return nil, err
	}

	lines := make([]ChannelLine, 0, len(channels))
	for _, ci := range channels {
		role := "follower"
		if ci.Spec.Validators[0].ID == identity {
			role = "leader"
		}

		snap := metrics.Snapshot(ci.ID, role)
		lines = append(lines, ChannelLine{
			ChannelID: ci.ID,
			Role:      role,
			Healthy:   metrics.IsHealthy(ci.ID),
			Ticks:     snap.Count,
			MeanMs:    snap.Mean / 1e6,
		})
	}

	return lines, nil
}

func (c *Console) printStatus(ctx context.Context) {
	identity, count, err := c.Status(ctx)
	if err != nil {
		color.Red("failed to list channels: %v", err)
		return
	}

	fmt.Printf("identity:  %s\n", identity)
	fmt.Printf("channels:  %d\n", count)
}

func (c *Console) printChannels(ctx context.Context) {
	lines, err := c.ChannelLines(ctx)
	if err != nil {
		color.Red("failed to list channels: %v", err)
		return
	}

	if len(lines) == 0 {
		fmt.Println("(no channels)")
		return
	}

	for _, l := range lines {
		text := fmt.Sprintf("%-20s role=%-9s ticks=%-6d mean=%.2fms", l.ChannelID, l.Role, l.Ticks, l.MeanMs)
		if l.Healthy {
			color.Green(text)
		} else {
			color.Yellow(text)
		}
	}
}
