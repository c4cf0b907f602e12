package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bosstimer/internal/app"

	"github.com/urfave/cli"
)

var runFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Usage:  "path to config json or yaml",
		Value:  "./config.json",
		EnvVar: "BOSSTIMER_CONFIG",
	},
	cli.DurationFlag{
		Name:  "stop-timeout",
		Usage: "upper bound for graceful shutdown",
		Value: 10 * time.Second,
	},
}

func runDaemon(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(c.String("config"))
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), c.Duration("stop-timeout"))
		_ = a.Stop(stopCtx, app.StopFatal)
		stopCancel()
		return fmt.Errorf("fatal start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatal
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), c.Duration("stop-timeout"))
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatal {
		return a.Err()
	}
	return nil
}
