// Package transcode copies the images of one XISF unit into a new unit,
// typically to change compression, checksums or the sample format.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samcharles93/xisf/pkg/xisf"
)

type Options struct {
	// Format converts every image to this sample format. FormatUnknown
	// keeps the stored format and bounds.
	Format xisf.SampleFormat
	// Images selects images by index. Empty selects all of them.
	Images []int
	// Properties copies image properties.
	Properties bool
}

func DefaultOptions() Options {
	return Options{Properties: true}
}

// Unit writes the selected images of r to w. Both must be open. The
// generated XISF: metadata of r is not copied; w produces its own.
func Unit(ctx context.Context, r *xisf.Reader, w *xisf.Writer, opts Options) error {
	n, err := r.NumberOfImages()
	if err != nil {
		return err
	}
	indices := opts.Images
	if len(indices) == 0 {
		indices = make([]int, n)
		for i := range indices {
			indices[i] = i
		}
	}
	for _, i := range indices {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.SelectImage(i); err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		if err := copyImage(r, w, opts); err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
	}
	return nil
}

func copyImage(r *xisf.Reader, w *xisf.Writer, opts Options) error {
	src, err := r.ImageOptions()
	if err != nil {
		return err
	}
	dst := xisf.DefaultImageOptions()
	dst.SampleFormat = src.SampleFormat
	dst.LowerBound, dst.UpperBound = src.LowerBound, src.UpperBound
	dst.CFAType = src.CFAType
	dst.XResolution, dst.YResolution = src.XResolution, src.YResolution
	dst.MetricResolution = src.MetricResolution
	dst.EmbedProperties = opts.Properties

	// Conversion starts from samples on the canonical range of their format.
	convert := opts.Format != xisf.FormatUnknown && opts.Format != src.SampleFormat
	read := src
	read.ReadNormalized = convert
	if err := r.SetImageOptions(read); err != nil {
		return err
	}
	if convert {
		def := xisf.DefaultImageOptions()
		dst.SampleFormat = opts.Format
		dst.LowerBound, dst.UpperBound = def.LowerBound, def.UpperBound
	}
	if err := w.SetImageOptions(dst); err != nil {
		return err
	}

	id, err := r.ImageID()
	if err != nil {
		return err
	}
	if id != "" {
		if err := w.SetImageID(id); err != nil {
			return err
		}
	}
	kws, err := r.Keywords()
	if err != nil {
		return err
	}
	w.SetKeywords(kws)
	if ws, err := r.RGBWorkingSpace(); err == nil {
		w.SetRGBWorkingSpace(ws)
	}
	if df, err := r.DisplayFunction(); err == nil {
		w.SetDisplayFunction(df)
	}
	if cfa, err := r.ColorFilterArray(); err == nil {
		w.SetColorFilterArray(cfa)
	}
	icc, err := r.ICCProfile()
	if err != nil {
		return err
	}
	w.SetICCProfile(icc)
	th, err := r.Thumbnail()
	if err != nil {
		return err
	}
	if th != nil {
		if err := w.SetThumbnail(th); err != nil {
			return err
		}
	}
	if opts.Properties {
		descs, err := r.Properties()
		if err != nil {
			return err
		}
		for _, d := range descs {
			if strings.HasPrefix(d.ID, xisf.InternalPrefix) {
				continue
			}
			v, err := r.Property(d.ID)
			if err != nil {
				return err
			}
			if err := w.SetImageProperty(d.ID, v); err != nil {
				return err
			}
		}
	}

	img, err := r.ReadImage()
	if err != nil {
		return err
	}
	return w.WriteImage(img)
}

// Result reports the outcome of File.
type Result struct {
	Images   int
	Warnings []string
}

// File transcodes the unit at src into a new file at dst. A partially
// written dst is removed on failure.
func File(ctx context.Context, src, dst string, ropts, wopts xisf.Options, opts Options) (res Result, err error) {
	// The writer generates its own XISF: metadata.
	ropts.AutoMetadata = false
	ropts.ImportFITSKeywords = false

	r := xisf.NewReader(ropts)
	if err := r.Open(src); err != nil {
		return res, err
	}
	defer func() { _ = r.Close() }()

	w := xisf.NewWriter(wopts)
	if err := w.Create(dst); err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			_ = w.Close()
			_ = os.Remove(dst)
		}
	}()

	if err := Unit(ctx, r, w, opts); err != nil {
		return res, err
	}
	if err := w.Close(); err != nil {
		return res, err
	}
	res.Images = len(opts.Images)
	if res.Images == 0 {
		res.Images, _ = r.NumberOfImages()
	}
	res.Warnings = append(r.Warnings(), w.Warnings()...)
	return res, nil
}

// ErrSameFile is returned when a unit would be transcoded onto itself.
var ErrSameFile = errors.New("transcode: source and destination are the same file")

// CheckPaths rejects a destination that names the source file.
func CheckPaths(src, dst string) error {
	a, err := os.Stat(src)
	if err != nil {
		return err
	}
	b, err := os.Stat(dst)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if os.SameFile(a, b) {
		return ErrSameFile
	}
	return nil
}
