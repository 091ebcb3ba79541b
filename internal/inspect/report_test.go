package inspect

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/xisf/pkg/xisf"
)

func writeUnit(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := xisf.NewWriter(xisf.DefaultOptions())
	if err := w.CreateTo(&buf, "unit.xisf"); err != nil {
		t.Fatalf("create: %v", err)
	}

	iopts := xisf.DefaultImageOptions()
	iopts.SampleFormat = xisf.FormatUInt16
	if err := w.SetImageOptions(iopts); err != nil {
		t.Fatalf("set image options: %v", err)
	}
	if err := w.SetImageID("dark"); err != nil {
		t.Fatalf("set id: %v", err)
	}
	dark, err := xisf.NewImageFrom(xisf.ImageInfo{Width: 4, Height: 3, Channels: 1, ColorSpace: xisf.ColorSpaceGray}, make([]uint16, 12))
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if err := w.WriteImage(dark); err != nil {
		t.Fatalf("write dark: %v", err)
	}

	iopts.SampleFormat = xisf.FormatFloat32
	if err := w.SetImageOptions(iopts); err != nil {
		t.Fatalf("set image options: %v", err)
	}
	w.SetKeywords([]xisf.FITSKeyword{{Name: "OBJECT", Value: "'M31'", Comment: "target"}})
	if err := w.SetImageProperty("Observation:Object:Name", xisf.MustValue("Andromeda Galaxy")); err != nil {
		t.Fatalf("set property: %v", err)
	}
	rgb, err := xisf.NewImageFrom(xisf.ImageInfo{Width: 2, Height: 2, Channels: 3, ColorSpace: xisf.ColorSpaceRGB}, make([]float32, 12))
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if err := w.WriteImage(rgb); err != nil {
		t.Fatalf("write rgb: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestBytesReport(t *testing.T) {
	t.Parallel()

	data := writeUnit(t)
	opts := DefaultOptions()
	opts.MaxValueLength = 9
	rep, err := Bytes(data, "unit.xisf", xisf.DefaultOptions(), opts)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if rep.Path != "unit.xisf" || rep.Size != int64(len(data)) {
		t.Fatalf("unexpected path/size: %q %d", rep.Path, rep.Size)
	}
	if len(rep.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(rep.Images))
	}

	dark := rep.Images[0]
	if dark.ID != "dark" || dark.SampleFormat != "UInt16" || dark.ColorSpace != "Gray" {
		t.Fatalf("unexpected first image: %+v", dark)
	}
	if dark.Width != 4 || dark.Height != 3 || dark.Channels != 1 {
		t.Fatalf("unexpected geometry: %+v", dark)
	}
	if dark.Bounds != nil {
		t.Fatalf("integer image should not report bounds: %v", *dark.Bounds)
	}
	if dark.PixelStorage != "Planar" {
		t.Fatalf("unexpected pixel storage %q", dark.PixelStorage)
	}

	rgb := rep.Images[1]
	if rgb.ColorSpace != "RGB" || rgb.SampleFormat != "Float32" {
		t.Fatalf("unexpected second image: %+v", rgb)
	}
	if rgb.Bounds == nil || *rgb.Bounds != [2]float64{0, 1} {
		t.Fatalf("unexpected bounds: %v", rgb.Bounds)
	}
	if len(rgb.Keywords) != 1 || rgb.Keywords[0].Name != "OBJECT" || rgb.Keywords[0].Comment != "target" {
		t.Fatalf("unexpected keywords: %+v", rgb.Keywords)
	}
	var found bool
	for _, p := range rgb.Properties {
		if p.ID == "Observation:Object:Name" {
			found = true
			if p.Type != "String" || p.Value != "Andromeda..." {
				t.Fatalf("unexpected property: %+v", p)
			}
		}
	}
	if !found {
		t.Fatalf("property missing from report: %+v", rgb.Properties)
	}
}

func TestReportOptions(t *testing.T) {
	t.Parallel()

	rep, err := Bytes(writeUnit(t), "unit.xisf", xisf.DefaultOptions(), Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	for _, img := range rep.Images {
		if len(img.Keywords) != 0 || len(img.Properties) != 0 {
			t.Fatalf("expected keywords and properties to be omitted: %+v", img)
		}
	}
}

func TestFilesKeepsOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.xisf")
	bad := filepath.Join(dir, "bad.xisf")
	if err := os.WriteFile(good, writeUnit(t), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(bad, []byte("SIMPLE  =                    T"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	missing := filepath.Join(dir, "missing.xisf")

	paths := []string{bad, good, missing, good}
	reports, err := Files(context.Background(), paths, xisf.DefaultOptions(), DefaultOptions(), 2)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(reports) != len(paths) {
		t.Fatalf("expected %d reports, got %d", len(paths), len(reports))
	}
	for i, rep := range reports {
		if rep.Path != paths[i] {
			t.Fatalf("report %d: path %q, want %q", i, rep.Path, paths[i])
		}
	}
	if reports[0].Error == "" || reports[2].Error == "" {
		t.Fatalf("expected errors for bad and missing files")
	}
	if reports[1].Error != "" || len(reports[3].Images) != 2 {
		t.Fatalf("unexpected report for good file: %+v", reports[1])
	}
	if reports[1].Size == 0 {
		t.Fatal("expected file size to be reported")
	}
}

func TestFilesCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Files(ctx, []string{"a.xisf"}, xisf.DefaultOptions(), DefaultOptions(), 1); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	one := []*Report{{Path: "a.xisf", Images: []Image{}}}
	var buf bytes.Buffer
	if err := Encode(&buf, one, false); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := buf.String(); got != `{"path":"a.xisf","images":[]}`+"\n" {
		t.Fatalf("unexpected encoding: %s", got)
	}

	buf.Reset()
	two := append(one, &Report{Path: "b.xisf", Images: []Image{}, Error: "boom"})
	if err := Encode(&buf, two, true); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "[") || !strings.Contains(buf.String(), `"error": "boom"`) {
		t.Fatalf("unexpected encoding: %s", buf.String())
	}
}

func TestWriteText(t *testing.T) {
	t.Parallel()

	rep, err := Bytes(writeUnit(t), "unit.xisf", xisf.DefaultOptions(), DefaultOptions())
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, []*Report{rep, {Path: "x.xisf", Error: "not a monolithic XISF file"}}); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"image 0 [dark]: 4x3x1 Gray UInt16 Planar",
		"image 1: 2x2x3 RGB Float32 Planar",
		"bounds      0:1",
		"OBJECT  = 'M31' / target",
		"x.xisf\n  error: not a monolithic XISF file",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abcdef", 0, "abcdef"},
		{"abcdef", 6, "abcdef"},
		{"abcdef", 3, "abc..."},
		{"ñññ", 3, "ñ..."},
	}
	for _, tc := range tests {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
