package main

import (
	"context"
	"time"

	"bosstimer/internal/api"
	"bosstimer/internal/config"

	"github.com/urfave/cli"
)

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "addr, a",
		Usage:  "daemon API address",
		Value:  config.DefaultAPIAddr,
		EnvVar: "BOSSTIMER_ADDR",
	},
	cli.DurationFlag{
		Name:  "timeout",
		Usage: "request timeout for client commands",
		Value: api.DefaultClientTimeout,
	},
}

func newCLI() *cli.App {
	app := cli.NewApp()
	app.Name = "bosstimer"
	app.HelpName = "bosstimer"
	app.Usage = "reminders for recurring events"
	app.UsageText = "bosstimer [global options] <command> [arguments...]"
	app.Version = version
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the reminder daemon",
			Flags:  runFlags,
			Action: runDaemon,
		},
		{
			Name:      "add",
			Usage:     "create a timer",
			ArgsUsage: "<name>",
			Flags:     addFlags,
			Action:    addTimer,
		},
		{
			Name:    "list",
			Aliases: []string{"ls"},
			Usage:   "list timers by next fire time",
			Flags:   listFlags,
			Action:  listTimers,
		},
		{
			Name:      "delete",
			Aliases:   []string{"rm"},
			Usage:     "delete a timer",
			ArgsUsage: "<id>",
			Action:    deleteTimer,
		},
		{
			Name:      "delay",
			Usage:     "push a timer back (default: the configured delay step)",
			ArgsUsage: "<id>",
			Flags:     delayFlags,
			Action:    delayTimer,
		},
		{
			Name:      "test",
			Usage:     "send a test notification for a timer",
			ArgsUsage: "<id>",
			Action:    testTimer,
		},
		{
			Name:   "export",
			Usage:  "write all timers as JSON",
			Flags:  exportFlags,
			Action: exportTimers,
		},
		{
			Name:      "import",
			Usage:     "replace all timers from a JSON export",
			ArgsUsage: "<file|->",
			Action:    importTimers,
		},
		{
			Name:  "history",
			Usage: "show or edit the alert history",
			Subcommands: []cli.Command{
				{Name: "list", Usage: "show recent alerts", Flags: listFlags, Action: listHistory},
				{Name: "limit", Usage: "set how many alerts are kept", ArgsUsage: "<n>", Action: setHistoryLimit},
				{Name: "delete", Usage: "delete one alert", ArgsUsage: "<id>", Action: deleteHistory},
				{Name: "clear", Usage: "delete every alert", Action: clearHistory},
			},
			Action: listHistory,
		},
		{
			Name:      "layout",
			Usage:     "show or set the layout preference",
			ArgsUsage: "[value]",
			Action:    layout,
		},
	}
	return app
}

// client builds an API client from the global flags.
func client(c *cli.Context) *api.Client {
	return api.NewClient(c.GlobalString("addr"), c.GlobalDuration("timeout"))
}

func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	timeout := c.GlobalDuration("timeout")
	if timeout <= 0 {
		timeout = api.DefaultClientTimeout
	}
	return context.WithTimeout(context.Background(), timeout+time.Second)
}
