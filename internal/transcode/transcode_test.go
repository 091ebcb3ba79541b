package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/samcharles93/xisf/pkg/xisf"
)

var (
	lightPixels = []uint16{0, 65535, 32768, 1000}
	flatPixels  = []float32{0.25, 0.5, 0.75, 1}
)

func writeSource(t *testing.T, path string) {
	t.Helper()
	w := xisf.NewWriter(xisf.DefaultOptions())
	if err := w.Create(path); err != nil {
		t.Fatalf("create: %v", err)
	}
	gray := xisf.ImageInfo{Width: 2, Height: 2, Channels: 1, ColorSpace: xisf.ColorSpaceGray}

	iopts := xisf.DefaultImageOptions()
	iopts.SampleFormat = xisf.FormatUInt16
	if err := w.SetImageOptions(iopts); err != nil {
		t.Fatalf("set image options: %v", err)
	}
	if err := w.SetImageID("light"); err != nil {
		t.Fatalf("set id: %v", err)
	}
	w.SetKeywords([]xisf.FITSKeyword{{Name: "EXPTIME", Value: "300.", Comment: "seconds"}})
	if err := w.SetImageProperty("Instrument:Camera:Name", xisf.MustValue("ASI294MM")); err != nil {
		t.Fatalf("set property: %v", err)
	}
	light, err := xisf.NewImageFrom(gray, lightPixels)
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if err := w.WriteImage(light); err != nil {
		t.Fatalf("write light: %v", err)
	}

	iopts.SampleFormat = xisf.FormatFloat32
	if err := w.SetImageOptions(iopts); err != nil {
		t.Fatalf("set image options: %v", err)
	}
	if err := w.SetImageID("flat"); err != nil {
		t.Fatalf("set id: %v", err)
	}
	flat, err := xisf.NewImageFrom(gray, flatPixels)
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if err := w.WriteImage(flat); err != nil {
		t.Fatalf("write flat: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func openResult(t *testing.T, path string) *xisf.Reader {
	t.Helper()
	opts := xisf.DefaultOptions()
	opts.AutoMetadata = false
	r := xisf.NewReader(opts)
	if err := r.Open(path); err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func readPixels[T xisf.Sample](t *testing.T, r *xisf.Reader, index int) []T {
	t.Helper()
	if err := r.SelectImage(index); err != nil {
		t.Fatalf("select %d: %v", index, err)
	}
	if err := r.SetImageOptions(xisf.ImageOptions{}); err != nil {
		t.Fatalf("set image options: %v", err)
	}
	img, err := r.ReadImage()
	if err != nil {
		t.Fatalf("read image %d: %v", index, err)
	}
	pix, err := xisf.Pixels[T](img)
	if err != nil {
		t.Fatalf("pixels: %v", err)
	}
	return pix
}

func TestFileCompresses(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.xisf")
	dst := filepath.Join(dir, "dst.xisf")
	writeSource(t, src)

	wopts := xisf.DefaultOptions()
	wopts.Compression = xisf.CodecZlibSh
	wopts.Checksum = xisf.ChecksumSHA256
	wopts.MaxInlineBlockSize = 0
	res, err := File(context.Background(), src, dst, xisf.DefaultOptions(), wopts, DefaultOptions())
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if res.Images != 2 {
		t.Fatalf("expected 2 images, got %d", res.Images)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if !strings.Contains(string(data), `checksum="sha256:`) {
		t.Fatal("expected checksummed blocks in the header")
	}

	r := openResult(t, dst)
	if n, _ := r.NumberOfImages(); n != 2 {
		t.Fatalf("expected 2 images, got %d", n)
	}
	if diff := cmp.Diff(lightPixels, readPixels[uint16](t, r, 0)); diff != "" {
		t.Fatalf("light pixels mismatch (-want +got):\n%s", diff)
	}
	if id, _ := r.ImageID(); id != "light" {
		t.Fatalf("unexpected id %q", id)
	}
	kws, err := r.Keywords()
	if err != nil {
		t.Fatalf("keywords: %v", err)
	}
	if len(kws) != 1 || kws[0].Name != "EXPTIME" || kws[0].Value != "300." {
		t.Fatalf("unexpected keywords: %+v", kws)
	}
	v, err := r.Property("Instrument:Camera:Name")
	if err != nil {
		t.Fatalf("property: %v", err)
	}
	if v.String() != "ASI294MM" {
		t.Fatalf("unexpected property value %q", v.String())
	}

	if diff := cmp.Diff(flatPixels, readPixels[float32](t, r, 1)); diff != "" {
		t.Fatalf("flat pixels mismatch (-want +got):\n%s", diff)
	}
	if id, _ := r.ImageID(); id != "flat" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestFileConvertsFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.xisf")
	dst := filepath.Join(dir, "dst.xisf")
	writeSource(t, src)

	opts := DefaultOptions()
	opts.Format = xisf.FormatFloat32
	opts.Images = []int{0}
	res, err := File(context.Background(), src, dst, xisf.DefaultOptions(), xisf.DefaultOptions(), opts)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if res.Images != 1 {
		t.Fatalf("expected 1 image, got %d", res.Images)
	}

	r := openResult(t, dst)
	if n, _ := r.NumberOfImages(); n != 1 {
		t.Fatalf("expected 1 image, got %d", n)
	}
	got := readPixels[float32](t, r, 0)
	want := []float32{0, 1, 32768.0 / 65535, 1000.0 / 65535}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Fatalf("converted pixels mismatch (-want +got):\n%s", diff)
	}
	iopts, err := r.ImageOptions()
	if err != nil {
		t.Fatalf("image options: %v", err)
	}
	if iopts.SampleFormat != xisf.FormatFloat32 || iopts.LowerBound != 0 || iopts.UpperBound != 1 {
		t.Fatalf("unexpected image options: %+v", iopts)
	}
}

func TestFileWithoutProperties(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.xisf")
	dst := filepath.Join(dir, "dst.xisf")
	writeSource(t, src)

	opts := DefaultOptions()
	opts.Properties = false
	if _, err := File(context.Background(), src, dst, xisf.DefaultOptions(), xisf.DefaultOptions(), opts); err != nil {
		t.Fatalf("File: %v", err)
	}
	r := openResult(t, dst)
	if _, err := r.Property("Instrument:Camera:Name"); !errors.Is(err, xisf.ErrPropertyNotFound) {
		t.Fatalf("expected ErrPropertyNotFound, got %v", err)
	}
}

func TestFileRemovesPartialOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.xisf")
	dst := filepath.Join(dir, "dst.xisf")
	writeSource(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := File(ctx, src, dst, xisf.DefaultOptions(), xisf.DefaultOptions(), DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected partial output to be removed, stat err=%v", err)
	}

	opts := DefaultOptions()
	opts.Images = []int{5}
	if _, err := File(context.Background(), src, dst, xisf.DefaultOptions(), xisf.DefaultOptions(), opts); !errors.Is(err, xisf.ErrImageIndex) {
		t.Fatalf("expected ErrImageIndex, got %v", err)
	}
}

func TestCheckPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.xisf")
	writeSource(t, src)

	if err := CheckPaths(src, filepath.Join(dir, ".", "src.xisf")); !errors.Is(err, ErrSameFile) {
		t.Fatalf("expected ErrSameFile, got %v", err)
	}
	if err := CheckPaths(src, filepath.Join(dir, "new.xisf")); err != nil {
		t.Fatalf("expected nil for a new destination, got %v", err)
	}
	if err := CheckPaths(filepath.Join(dir, "missing.xisf"), src); err == nil {
		t.Fatal("expected error for a missing source")
	}
}
