package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xisf/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "xisf",
		Usage: "Inspect, convert and serve XISF image files",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to config.yaml (default: user config dir)",
				Destination: &configFile,
			},
		),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			inspectCmd(),
			convertCmd(),
			extractCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config file and installs the logger in the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	config = cfg
	if config.LogLevel != "" && !cmd.IsSet("log-level") {
		logLevel = config.LogLevel
	}
	if config.LogFormat != "" && !cmd.IsSet("log-format") {
		logFormat = config.LogFormat
	}
	if debug {
		logLevel = "debug"
	}
	log, err := logger.Setup(os.Stderr, logLevel, logFormat)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
