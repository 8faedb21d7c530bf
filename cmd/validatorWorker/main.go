package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/urfave/cli"

	"github.com/outpace-protocol/validator-worker/adapter"
	"github.com/outpace-protocol/validator-worker/console"
	"github.com/outpace-protocol/validator-worker/internal/config"
	"github.com/outpace-protocol/validator-worker/internal/log"
	"github.com/outpace-protocol/validator-worker/sentry"
	"github.com/outpace-protocol/validator-worker/validator"
)

func main() {
	app := cli.NewApp()

	app.Name = "validatorWorker"
	app.Usage = "OUTPACE two-validator off-chain payment-channel worker"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "adapter",
			Usage: "signing backend: `ethereum` or `dummy` (required)",
		},
		cli.StringFlag{
			Name:  "keystoreFile",
			Usage: "path to an Ethereum keystore file, for --adapter ethereum",
		},
		cli.StringFlag{
			Name:  "dummyIdentity",
			Usage: "fixed identity string, for --adapter dummy",
		},
		cli.StringFlag{
			Name:  "sentryUrl",
			Value: "http://127.0.0.1:8005",
			Usage: "base URL of the sentry HTTP service",
		},
		cli.BoolFlag{
			Name:  "singleTick",
			Usage: "run exactly one scheduler pass then exit",
		},
		cli.BoolFlag{
			Name:  "console",
			Usage: "start an interactive operator console alongside the scheduler",
		},
		// Declared so urfave/cli accepts them; run re-parses them through
		// config.BindFlags, which owns their defaults.
		cli.DurationFlag{Name: "tick-timeout"},
		cli.DurationFlag{Name: "wait-time"},
		cli.DurationFlag{Name: "list-timeout"},
		cli.IntFlag{Name: "health-threshold-promilles"},
		cli.DurationFlag{Name: "heartbeat-time"},
		cli.IntFlag{Name: "max-channels"},
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("validatorWorker failed to start.")
	}
}

func run(c *cli.Context) error {
	// Reparses the same argv urfave/cli already consumed above, so
	// config's own flags (tick-timeout, wait-time, ...) are CLI- as well as
	// env-driven. UnknownFlags tolerates urfave/cli's flags (adapter,
	// keystoreFile, ...), which this set doesn't know about.
	fs := pflag.NewFlagSet("validatorWorker", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	config.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	a, err := buildAdapter(c)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build signing adapter.")
		return err
	}

	if err := a.Init(); err != nil {
		log.Fatal().Err(err).Msg("Adapter initialization failed.")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Unlock(ctx); err != nil {
		log.Fatal().Err(err).Msg("Adapter unlock failed.")
		return err
	}

	client := sentry.NewClient(c.String("sentryUrl"), string(a.WhoAmI()), 10, 20)

	sch := validator.NewScheduler(client, a, validator.SchedulerConfig{
		TickTimeout:              cfg.TickTimeout,
		WaitTime:                 cfg.WaitTime,
		HeartbeatInterval:        cfg.HeartbeatTime,
		MaxConcurrent:            4,
		ListTimeout:              cfg.ListTimeout,
		MaxChannels:              cfg.MaxChannels,
		HealthThresholdPromilles: cfg.HealthThresholdPromilles,
	})

	log.Info().
		Str("identity", string(a.WhoAmI())).
		Str("sentryUrl", c.String("sentryUrl")).
		Bool("singleTick", c.Bool("singleTick")).
		Msg("validatorWorker starting.")

	if c.Bool("singleTick") {
		outcomes, err := sch.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("outcomes", len(outcomes)).Msg("Single tick complete.")
		return nil
	}

	if c.Bool("console") {
		go func() {
			con := console.New(client, a)
			if err := con.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Console exited.")
			}
			cancel()
		}()
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-exit
		cancel()
	}()

	if err := sch.Run(ctx); err != nil && err != context.Canceled {
		return err
	}

	return nil
}

func buildAdapter(c *cli.Context) (adapter.Adapter, error) {
	switch c.String("adapter") {
	case "ethereum":
		return adapter.NewEthereum(c.String("keystoreFile"), os.Getenv("KEYSTORE_PWD")), nil
	case "dummy":
		return adapter.NewDummy(c.String("dummyIdentity")), nil
	default:
		return nil, cli.NewExitError("--adapter must be \"ethereum\" or \"dummy\"", 1)
	}
}
