package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xisf/internal/inspect"
	"github.com/samcharles93/xisf/internal/logger"
)

func inspectCmd() *cli.Command {
	var (
		asJSON       bool
		noKeywords   bool
		noProperties bool
		valueLimit   int
		workers      int
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Summarize the images, keywords and properties of XISF files",
		ArgsUsage: "FILE...",
		Flags: append(readerFlags(),
			&cli.BoolFlag{Name: "json", Usage: "print reports as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "no-keywords", Usage: "omit FITS keywords", Destination: &noKeywords},
			&cli.BoolFlag{Name: "no-properties", Usage: "omit properties", Destination: &noProperties},
			&cli.IntFlag{Name: "value-limit", Usage: "truncate property values (0 = no limit)", Value: 120, Destination: &valueLimit},
			&cli.IntFlag{Name: "workers", Aliases: []string{"j"}, Usage: "files inspected concurrently", Value: runtime.NumCPU(), Destination: &workers},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return fmt.Errorf("inspect: at least one file is required")
			}
			if !cmd.IsSet("workers") && config.Workers != nil {
				workers = *config.Workers
			}

			ropts := readOptions(cmd)
			opts := inspect.Options{
				Keywords:       !noKeywords,
				Properties:     !noProperties,
				MaxValueLength: valueLimit,
			}
			log.Debug("inspecting", "files", len(paths), "workers", workers)
			reports, err := inspect.Files(ctx, paths, ropts, opts, workers)
			if err != nil {
				return err
			}

			if asJSON {
				err = inspect.Encode(os.Stdout, reports, true)
			} else {
				err = inspect.WriteText(os.Stdout, reports)
			}
			if err != nil {
				return err
			}
			failed := 0
			for _, rep := range reports {
				if rep.Error != "" {
					failed++
					log.Error("inspect failed", "file", rep.Path, "err", rep.Error)
				}
			}
			if failed > 0 {
				return fmt.Errorf("inspect: %d of %d files could not be read", failed, len(reports))
			}
			return nil
		},
	}
}
