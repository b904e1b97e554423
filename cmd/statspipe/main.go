package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/statspipe/statspipe/agent"
	"github.com/statspipe/statspipe/config"
	"github.com/statspipe/statspipe/logger"

	_ "github.com/statspipe/statspipe/plugins/inputs/all"
	_ "github.com/statspipe/statspipe/plugins/outputs/all"
	_ "github.com/statspipe/statspipe/plugins/processors/all"
)

func main() {
	app := &cli.App{
		Name:  "statspipe",
		Usage: "statsd-centric telemetry pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "/etc/statspipe/statspipe.toml",
				Usage:   "path to the configuration file",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "force debug logging",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.Bool("debug") {
		cfg.Agent.LogLevel = "debug"
	}
	logger.SetLevel(cfg.Agent.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return agent.New(cfg).Run(ctx)
}
