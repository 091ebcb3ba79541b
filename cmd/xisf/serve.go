package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xisf/internal/api"
	"github.com/samcharles93/xisf/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxUpload   int64
		maxUnits    int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the XISF inspection and conversion API",
		Flags: append(append(readerFlags(), writerFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-upload",
				Usage:       "largest accepted upload in bytes",
				Value:       api.DefaultConfig().MaxUploadBytes,
				Destination: &maxUpload,
			},
			&cli.IntFlag{
				Name:        "max-units",
				Usage:       "units kept in memory before the oldest is evicted",
				Value:       api.DefaultConfig().MaxUnits,
				Destination: &maxUnits,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, config, &addr, &maxUpload, &maxUnits)

			wopts, err := writeOptions(cmd)
			if err != nil {
				return err
			}
			server := api.NewServer(api.Config{
				ReadOptions:    readOptions(cmd),
				WriteOptions:   wopts,
				MaxUploadBytes: maxUpload,
				MaxUnits:       maxUnits,
				Logger:         log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

// applyServeConfig applies config file defaults to serve command variables
// when the corresponding flag was not set.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, maxUpload *int64, maxUnits *int) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.MaxUploadBytes != nil && !c.IsSet("max-upload") {
		*maxUpload = *cfg.MaxUploadBytes
	}
	if cfg.MaxUnits != nil && !c.IsSet("max-units") {
		*maxUnits = *cfg.MaxUnits
	}
}
