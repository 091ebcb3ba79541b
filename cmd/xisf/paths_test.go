package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/samcharles93/xisf/pkg/xisf"
)

func TestResolveConvertOut(t *testing.T) {
	t.Run("explicit output wins", func(t *testing.T) {
		outPath := filepath.Join(t.TempDir(), "nested", "m31.xisf")

		got, defaulted, err := resolveConvertOut("in/m31.xisf", outPath, "ignored")
		if err != nil {
			t.Fatalf("resolveConvertOut returned error: %v", err)
		}
		if defaulted {
			t.Fatalf("expected explicit output to not be defaulted")
		}
		if got != filepath.Clean(outPath) {
			t.Fatalf("unexpected output path: got %q want %q", got, filepath.Clean(outPath))
		}
		if _, err := os.Stat(filepath.Dir(got)); err != nil {
			t.Fatalf("expected output directory to exist: %v", err)
		}
	})

	t.Run("out dir keeps the base name", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "converted")
		got, defaulted, err := resolveConvertOut("/data/M31_Ha.xisf", "", dir)
		if err != nil {
			t.Fatalf("resolveConvertOut returned error: %v", err)
		}
		if !defaulted || got != filepath.Join(dir, "M31_Ha.xisf") {
			t.Fatalf("unexpected output: %q defaulted=%v", got, defaulted)
		}
	})

	t.Run("env output dir overrides default", func(t *testing.T) {
		envDir := filepath.Join(t.TempDir(), "xisf-out")
		t.Setenv(envXISFOutDir, envDir)

		got, defaulted, err := resolveConvertOut("flat.xisf", "", "")
		if err != nil {
			t.Fatalf("resolveConvertOut returned error: %v", err)
		}
		if !defaulted {
			t.Fatalf("expected output to be defaulted")
		}
		if want := filepath.Join(envDir, "flat.xisf"); got != want {
			t.Fatalf("unexpected output path: got %q want %q", got, want)
		}
	})

	t.Run("default output dir is ./out", func(t *testing.T) {
		t.Setenv(envXISFOutDir, "")
		t.Chdir(t.TempDir())

		got, _, err := resolveConvertOut("dark", "", "")
		if err != nil {
			t.Fatalf("resolveConvertOut returned error: %v", err)
		}
		if want := filepath.Join("out", "dark.xisf"); got != want {
			t.Fatalf("unexpected output path: got %q want %q", got, want)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		if _, _, err := resolveConvertOut("/", "", t.TempDir()); err == nil {
			t.Fatal("expected error for a root input path")
		}
	})
}

func TestParseIndices(t *testing.T) {
	t.Parallel()

	got, err := parseIndices(" 0, 2,5 ")
	if err != nil {
		t.Fatalf("parseIndices: %v", err)
	}
	if !slices.Equal(got, []int{0, 2, 5}) {
		t.Fatalf("unexpected indices %v", got)
	}
	if got, err := parseIndices(""); err != nil || got != nil {
		t.Fatalf("expected nil for empty input, got %v %v", got, err)
	}
	for _, bad := range []string{"1x", "-1", "1,,2"} {
		if _, err := parseIndices(bad); err == nil {
			t.Errorf("parseIndices(%q): expected error", bad)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("compression: lz4hc+sh\ncompression_level: 9\nchecksum: sha256\nworkers: 3\nserver_address: 0.0.0.0:9000\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Compression != "lz4hc+sh" || cfg.Checksum != "sha256" || cfg.ServerAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.CompressionLevel == nil || *cfg.CompressionLevel != 9 || cfg.Workers == nil || *cfg.Workers != 3 {
		t.Fatalf("unexpected pointer fields: %+v", cfg)
	}
	if cfg.BlockAlignment != nil {
		t.Fatal("expected unset fields to stay nil")
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
	if err := os.WriteFile(path, []byte("workers: [1"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestExtractData(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := xisf.NewWriter(xisf.DefaultOptions())
	if err := w.CreateTo(&buf, "x.xisf"); err != nil {
		t.Fatalf("create: %v", err)
	}
	iopts := xisf.DefaultImageOptions()
	iopts.SampleFormat = xisf.FormatUInt8
	if err := w.SetImageOptions(iopts); err != nil {
		t.Fatalf("set image options: %v", err)
	}
	w.SetICCProfile([]byte("icc-profile-bytes"))
	img, err := xisf.NewImageFrom(xisf.ImageInfo{Width: 2, Height: 1, Channels: 1, ColorSpace: xisf.ColorSpaceGray}, []uint8{7, 9})
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if err := w.WriteImage(img); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r := xisf.NewReader(xisf.DefaultOptions())
	if err := r.OpenReaderAt(bytes.NewReader(buf.Bytes()), int64(buf.Len()), "x.xisf"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = r.Close() }()

	pix, err := extractData(r, "pixels", false)
	if err != nil || !bytes.Equal(pix, []byte{7, 9}) {
		t.Fatalf("pixels: got %v %v", pix, err)
	}
	icc, err := extractData(r, "icc", false)
	if err != nil || string(icc) != "icc-profile-bytes" {
		t.Fatalf("icc: got %q %v", icc, err)
	}
	th, err := extractData(r, "thumbnail", false)
	if err != nil || th != nil {
		t.Fatalf("thumbnail: expected none, got %v %v", th, err)
	}
	if _, err := extractData(r, "fits", false); err == nil {
		t.Fatal("expected error for an unknown payload")
	}
}
