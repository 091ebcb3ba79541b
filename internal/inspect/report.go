// Package inspect summarizes the contents of XISF units for display.
package inspect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/xisf/pkg/xisf"
)

// Options selects what a report includes.
type Options struct {
	Keywords   bool
	Properties bool
	// MaxValueLength truncates rendered property values. Zero keeps them
	// whole.
	MaxValueLength int
}

func DefaultOptions() Options {
	return Options{Keywords: true, Properties: true, MaxValueLength: 120}
}

type Report struct {
	Path     string   `json:"path"`
	Size     int64    `json:"size,omitempty"`
	Images   []Image  `json:"images"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type Image struct {
	Index        int         `json:"index"`
	ID           string      `json:"id,omitempty"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	Channels     int         `json:"channels"`
	ColorSpace   string      `json:"colorSpace"`
	SampleFormat string      `json:"sampleFormat"`
	Bounds       *[2]float64 `json:"bounds,omitempty"`
	PixelStorage string      `json:"pixelStorage"`
	Resolution   *Resolution `json:"resolution,omitempty"`
	CFA          *CFA        `json:"cfa,omitempty"`
	ICCProfile   int         `json:"iccProfileSize,omitempty"`
	Thumbnail    string      `json:"thumbnail,omitempty"`
	Keywords     []Keyword   `json:"keywords,omitempty"`
	Properties   []Property  `json:"properties,omitempty"`
}

type Resolution struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
	Unit       string  `json:"unit"`
}

type CFA struct {
	Pattern string `json:"pattern"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Name    string `json:"name,omitempty"`
}

type Keyword struct {
	Name    string `json:"name"`
	Value   string `json:"value,omitempty"`
	Comment string `json:"comment,omitempty"`
}

type Property struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Build summarizes every image of the open unit r.
func Build(r *xisf.Reader, opts Options) (*Report, error) {
	n, err := r.NumberOfImages()
	if err != nil {
		return nil, err
	}
	rep := &Report{Path: r.Path(), Images: make([]Image, 0, n)}
	for i := range n {
		if err := r.SelectImage(i); err != nil {
			return nil, err
		}
		img, err := buildImage(r, i, opts)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		rep.Images = append(rep.Images, img)
	}
	rep.Warnings = r.Warnings()
	return rep, nil
}

func buildImage(r *xisf.Reader, index int, opts Options) (Image, error) {
	info, err := r.ImageInfo()
	if err != nil {
		return Image{}, err
	}
	iopts, err := r.ImageOptions()
	if err != nil {
		return Image{}, err
	}
	img := Image{
		Index:        index,
		Width:        info.Width,
		Height:       info.Height,
		Channels:     info.Channels,
		ColorSpace:   info.ColorSpace.String(),
		SampleFormat: iopts.SampleFormat.String(),
		PixelStorage: "Planar",
	}
	if img.ID, err = r.ImageID(); err != nil {
		return Image{}, err
	}
	if iopts.SampleFormat.IsFloat() {
		img.Bounds = &[2]float64{iopts.LowerBound, iopts.UpperBound}
	}
	if normal, _ := r.NormalPixelStorage(); normal {
		img.PixelStorage = "Normal"
	}
	if iopts.XResolution > 0 && iopts.YResolution > 0 {
		unit := "inch"
		if iopts.MetricResolution {
			unit = "cm"
		}
		img.Resolution = &Resolution{Horizontal: iopts.XResolution, Vertical: iopts.YResolution, Unit: unit}
	}
	if cfa, err := r.ColorFilterArray(); err == nil && !cfa.IsEmpty() {
		img.CFA = &CFA{Pattern: cfa.Pattern, Width: cfa.Width, Height: cfa.Height, Name: cfa.Name}
	}
	icc, err := r.ICCProfile()
	if err != nil {
		return Image{}, err
	}
	img.ICCProfile = len(icc)
	th, err := r.Thumbnail()
	if err != nil {
		return Image{}, err
	}
	if th != nil {
		img.Thumbnail = fmt.Sprintf("%dx%dx%d", th.Width, th.Height, th.Channels)
	}

	if opts.Keywords {
		kws, err := r.Keywords()
		if err != nil {
			return Image{}, err
		}
		for _, k := range kws {
			img.Keywords = append(img.Keywords, Keyword(k))
		}
	}
	if opts.Properties {
		descs, err := r.Properties()
		if err != nil {
			return Image{}, err
		}
		for _, d := range descs {
			v, err := r.Property(d.ID)
			if err != nil {
				return Image{}, fmt.Errorf("property %s: %w", d.ID, err)
			}
			img.Properties = append(img.Properties, Property{
				ID:    d.ID,
				Type:  d.Type.String(),
				Value: truncate(v.String(), opts.MaxValueLength),
			})
		}
	}
	return img, nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// File opens path with ropts and summarizes it.
func File(path string, ropts xisf.Options, opts Options) (*Report, error) {
	r := xisf.NewReader(ropts)
	if err := r.Open(path); err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	rep, err := Build(r, opts)
	if err != nil {
		return nil, err
	}
	if st, err := os.Stat(path); err == nil {
		rep.Size = st.Size()
	}
	return rep, nil
}

// Bytes summarizes a unit held in memory. name is reported as its path.
func Bytes(data []byte, name string, ropts xisf.Options, opts Options) (*Report, error) {
	r := xisf.NewReader(ropts)
	if err := r.OpenReaderAt(bytes.NewReader(data), int64(len(data)), name); err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	rep, err := Build(r, opts)
	if err != nil {
		return nil, err
	}
	rep.Size = int64(len(data))
	return rep, nil
}

// Files summarizes several units using at most workers goroutines. Reports
// keep the order of paths. A unit that fails to open gets a report carrying
// the error rather than failing the batch; only cancellation of ctx is
// returned as an error.
func Files(ctx context.Context, paths []string, ropts xisf.Options, opts Options, workers int) ([]*Report, error) {
	reports := make([]*Report, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep, err := File(path, ropts, opts)
			if err != nil {
				rep = &Report{Path: path, Images: []Image{}, Error: err.Error()}
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// Encode writes reports as JSON. A single report is written as an object,
// several as an array.
func Encode(w io.Writer, reports []*Report, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	if len(reports) == 1 {
		return enc.Encode(reports[0])
	}
	return enc.Encode(reports)
}

// WriteText renders reports in a human readable layout.
func WriteText(w io.Writer, reports []*Report) error {
	var b strings.Builder
	for i, rep := range reports {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s", rep.Path)
		if rep.Size > 0 {
			fmt.Fprintf(&b, " (%d bytes)", rep.Size)
		}
		b.WriteByte('\n')
		if rep.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", rep.Error)
			continue
		}
		for _, img := range rep.Images {
			fmt.Fprintf(&b, "  image %d", img.Index)
			if img.ID != "" {
				fmt.Fprintf(&b, " [%s]", img.ID)
			}
			fmt.Fprintf(&b, ": %dx%dx%d %s %s %s\n", img.Width, img.Height, img.Channels,
				img.ColorSpace, img.SampleFormat, img.PixelStorage)
			if img.Bounds != nil {
				fmt.Fprintf(&b, "    bounds      %g:%g\n", img.Bounds[0], img.Bounds[1])
			}
			if img.Resolution != nil {
				fmt.Fprintf(&b, "    resolution  %g x %g per %s\n", img.Resolution.Horizontal, img.Resolution.Vertical, img.Resolution.Unit)
			}
			if img.CFA != nil {
				fmt.Fprintf(&b, "    cfa         %s %dx%d\n", img.CFA.Pattern, img.CFA.Width, img.CFA.Height)
			}
			if img.ICCProfile > 0 {
				fmt.Fprintf(&b, "    icc profile %d bytes\n", img.ICCProfile)
			}
			if img.Thumbnail != "" {
				fmt.Fprintf(&b, "    thumbnail   %s\n", img.Thumbnail)
			}
			for _, k := range img.Keywords {
				fmt.Fprintf(&b, "    %-8s= %s", k.Name, k.Value)
				if k.Comment != "" {
					fmt.Fprintf(&b, " / %s", k.Comment)
				}
				b.WriteByte('\n')
			}
			for _, p := range img.Properties {
				fmt.Fprintf(&b, "    %s (%s) = %s\n", p.ID, p.Type, p.Value)
			}
		}
		for _, warn := range rep.Warnings {
			fmt.Fprintf(&b, "  warning: %s\n", warn)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
