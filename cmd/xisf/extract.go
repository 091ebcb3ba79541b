package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xisf/internal/logger"
	"github.com/samcharles93/xisf/pkg/xisf"
)

func extractCmd() *cli.Command {
	var (
		output     string
		image      int
		what       string
		normalized bool
	)

	return &cli.Command{
		Name:      "extract",
		Usage:     "Write the raw samples, ICC profile or thumbnail of an image",
		ArgsUsage: "FILE",
		Flags: append(readerFlags(),
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output file (default: stdout)",
				Destination: &output,
			},
			&cli.IntFlag{
				Name:        "image",
				Aliases:     []string{"i"},
				Usage:       "image index",
				Destination: &image,
			},
			&cli.StringFlag{
				Name:        "what",
				Usage:       "pixels, icc or thumbnail",
				Value:       "pixels",
				Destination: &what,
			},
			&cli.BoolFlag{
				Name:        "normalized",
				Usage:       "rescale pixels from the stored bounds to the native range",
				Destination: &normalized,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("extract: exactly one file is required")
			}
			ropts := readOptions(cmd)
			ropts.Logger = log
			r := xisf.NewReader(ropts)
			if err := r.Open(cmd.Args().First()); err != nil {
				return err
			}
			defer func() { _ = r.Close() }()
			if err := r.SelectImage(image); err != nil {
				return err
			}

			data, err := extractData(r, what, normalized)
			if err != nil {
				return err
			}
			if data == nil {
				return fmt.Errorf("extract: image %d has no %s", image, what)
			}

			var w io.Writer = os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
			log.Info("extracted", "what", what, "image", image, "bytes", len(data))
			return nil
		},
	}
}

// extractData returns the requested payload of the selected image, or nil
// if the image has none.
func extractData(r *xisf.Reader, what string, normalized bool) ([]byte, error) {
	switch what {
	case "pixels":
		iopts, err := r.ImageOptions()
		if err != nil {
			return nil, err
		}
		iopts.ReadNormalized = normalized
		if err := r.SetImageOptions(iopts); err != nil {
			return nil, err
		}
		img, err := r.ReadImage()
		if err != nil {
			return nil, err
		}
		return img.Bytes(), nil
	case "icc":
		return r.ICCProfile()
	case "thumbnail":
		th, err := r.Thumbnail()
		if err != nil || th == nil {
			return nil, err
		}
		return th.Bytes(), nil
	}
	return nil, fmt.Errorf("extract: unknown payload %q (want pixels, icc or thumbnail)", what)
}
