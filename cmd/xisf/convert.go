package main

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/xisf/internal/logger"
	"github.com/samcharles93/xisf/internal/transcode"
	"github.com/samcharles93/xisf/pkg/xisf"
)

func convertCmd() *cli.Command {
	var (
		output       string
		outDir       string
		sampleFormat string
		images       string
		noProperties bool
		workers      int
	)

	return &cli.Command{
		Name:      "convert",
		Usage:     "Rewrite XISF files with new compression, checksum or sample format",
		ArgsUsage: "FILE...",
		Flags: append(append(readerFlags(), writerFlags()...),
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output file (single input only)",
				Destination: &output,
			},
			&cli.StringFlag{
				Name:        "out-dir",
				Usage:       "directory for converted files (default: $" + envXISFOutDir + " or ./out)",
				Destination: &outDir,
			},
			&cli.StringFlag{
				Name:        "sample-format",
				Usage:       "convert images to UInt8, UInt16, UInt32, Float32, Float64, Complex32 or Complex64",
				Destination: &sampleFormat,
			},
			&cli.StringFlag{
				Name:        "images",
				Usage:       "comma separated image indices to keep (default: all)",
				Destination: &images,
			},
			&cli.BoolFlag{
				Name:        "no-properties",
				Usage:       "drop image properties",
				Destination: &noProperties,
			},
			&cli.IntFlag{
				Name:        "workers",
				Aliases:     []string{"j"},
				Usage:       "files converted concurrently",
				Value:       runtime.NumCPU(),
				Destination: &workers,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			inputs := cmd.Args().Slice()
			if len(inputs) == 0 {
				return fmt.Errorf("convert: at least one file is required")
			}
			if output != "" && len(inputs) > 1 {
				return fmt.Errorf("convert: --output requires a single input file")
			}
			if !cmd.IsSet("workers") && config.Workers != nil {
				workers = *config.Workers
			}
			if !cmd.IsSet("out-dir") && config.OutputDir != "" {
				outDir = config.OutputDir
			}

			ropts := readOptions(cmd)
			wopts, err := writeOptions(cmd)
			if err != nil {
				return err
			}
			topts := transcode.DefaultOptions()
			topts.Properties = !noProperties
			if sampleFormat != "" {
				if topts.Format, err = xisf.ParseSampleFormat(sampleFormat); err != nil {
					return err
				}
			}
			if topts.Images, err = parseIndices(images); err != nil {
				return err
			}

			outputs := make([]string, len(inputs))
			for i, in := range inputs {
				out, defaulted, err := resolveConvertOut(in, output, outDir)
				if err != nil {
					return err
				}
				if err := transcode.CheckPaths(in, out); err != nil {
					return fmt.Errorf("%s: %w", in, err)
				}
				if defaulted {
					log.Debug("defaulted output path", "input", in, "output", out)
				}
				outputs[i] = out
			}

			var converted atomic.Int64
			g, ctx := errgroup.WithContext(ctx)
			g.SetLimit(max(workers, 1))
			for i, in := range inputs {
				g.Go(func() error {
					res, err := transcode.File(ctx, in, outputs[i], ropts, wopts, topts)
					if err != nil {
						return fmt.Errorf("%s: %w", in, err)
					}
					for _, w := range res.Warnings {
						log.Warn(w, "file", in)
					}
					converted.Add(1)
					log.Info("converted", "input", in, "output", outputs[i], "images", res.Images, "codec", wopts.Compression)
					return nil
				})
			}
			err = g.Wait()
			log.Debug("convert finished", "converted", converted.Load(), "of", len(inputs))
			return err
		},
	}
}
