package xisf

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func encodeUnit(t *testing.T, opts Options, write func(w *Writer) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(opts)
	if err := w.CreateTo(&buf, "test.xisf"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := write(w); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf.Bytes()
}

func decodeUnit(t *testing.T, opts Options, data []byte) *Reader {
	t.Helper()
	r := NewReader(opts)
	if err := r.OpenReaderAt(bytes.NewReader(data), int64(len(data)), ""); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func headerOf(t *testing.T, data []byte) string {
	t.Helper()
	s, err := DecodeSignature(data)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	return string(data[SignatureSize : SignatureSize+int(s.HeaderLength)])
}

func rampFloat32(n int) []float32 {
	pix := make([]float32, n)
	for i := range pix {
		pix[i] = float32(i%97) / 96
	}
	return pix
}

func rampUInt16(n int) []uint16 {
	pix := make([]uint16, n)
	for i := range pix {
		pix[i] = uint16(i / 7)
	}
	return pix
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	info := ImageInfo{Width: 5, Height: 4, Channels: 3, ColorSpace: ColorSpaceRGB}
	pix := rampFloat32(info.NumberOfSamples())
	img, err := NewImageFrom(info, pix)
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	thumb, err := NewImageFrom(ImageInfo{Width: 2, Height: 2, Channels: 1, ColorSpace: ColorSpaceGray}, []uint8{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("new thumbnail: %v", err)
	}
	ws := RGBWorkingSpace{
		Gamma: 1.8,
		X:     [3]float32{0.64, 0.3, 0.15},
		Y:     [3]float32{0.33, 0.6, 0.06},
		L:     [3]float32{0.25, 0.5, 0.25},
	}
	df := IdentityDisplayFunction()
	df.M = [4]float64{0.25, 0.25, 0.25, 0.5}
	df.S = [4]float64{0.125, 0.125, 0.125, 0}
	cfa := ColorFilterArray{Pattern: "RGGB", Width: 2, Height: 2, Name: "Bayer"}
	icc := []byte("not really an ICC profile")
	keywords := []FITSKeyword{
		{Name: " OBJECT ", Value: "'M31'", Comment: "target"},
		{Name: "EXPTIME", Value: "300", Comment: "seconds"},
		{Name: "FILTER", Value: "'Ha", Comment: ""},
	}
	when := time.Date(2024, 3, 9, 21, 30, 0, 0, time.UTC)

	opts := DefaultOptions()
	var lastKeywords []FITSKeyword
	data := encodeUnit(t, opts, func(w *Writer) error {
		iopts := DefaultImageOptions()
		iopts.XResolution, iopts.YResolution, iopts.MetricResolution = 30, 40, true
		iopts.CFAType = "RGGB"
		if err := w.SetImageOptions(iopts); err != nil {
			return err
		}
		if err := w.SetImageID("M31_Ha"); err != nil {
			return err
		}
		w.SetKeywords(keywords)
		w.SetRGBWorkingSpace(ws)
		w.SetDisplayFunction(df)
		w.SetColorFilterArray(cfa)
		w.SetICCProfile(icc)
		if err := w.SetThumbnail(thumb); err != nil {
			return err
		}
		for id, v := range map[string]Value{
			"Observation:Object:Name": MustValue("Andromeda Galaxy"),
			"Instrument:ExposureTime": MustValue(300.0),
			"Observation:Time:Start":  MustValue(when),
		} {
			if err := w.SetImageProperty(id, v); err != nil {
				return err
			}
		}
		if err := w.WriteImage(img); err != nil {
			return err
		}
		lastKeywords = w.LastKeywords()
		return nil
	})

	r := decodeUnit(t, opts, data)
	if n, _ := r.NumberOfImages(); n != 1 {
		t.Fatalf("images = %d, want 1", n)
	}
	if w := r.Warnings(); len(w) != 0 {
		t.Fatalf("unexpected warnings: %q", w)
	}
	gotInfo, err := r.ImageInfo()
	if err != nil {
		t.Fatalf("image info: %v", err)
	}
	if gotInfo != info {
		t.Fatalf("info = %+v, want %+v", gotInfo, info)
	}
	if id, _ := r.ImageID(); id != "M31_Ha" {
		t.Fatalf("id = %q", id)
	}
	got, err := r.ReadImage()
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	gotPix, err := Pixels[float32](got)
	if err != nil {
		t.Fatalf("pixels: %v", err)
	}
	if diff := cmp.Diff(pix, gotPix); diff != "" {
		t.Fatalf("pixels mismatch (-want +got):\n%s", diff)
	}

	wantKeywords := []FITSKeyword{
		{Name: "OBJECT", Value: "'M31'", Comment: "target"},
		{Name: "EXPTIME", Value: "300", Comment: "seconds"},
		{Name: "FILTER", Value: "'Ha'", Comment: ""},
	}
	if diff := cmp.Diff(wantKeywords, lastKeywords); diff != "" {
		t.Fatalf("last keywords mismatch (-want +got):\n%s", diff)
	}
	gotKeywords, _ := r.Keywords()
	if diff := cmp.Diff(wantKeywords, gotKeywords); diff != "" {
		t.Fatalf("keywords mismatch (-want +got):\n%s", diff)
	}

	if gotWS, _ := r.RGBWorkingSpace(); gotWS != ws {
		t.Fatalf("rgbws = %+v, want %+v", gotWS, ws)
	}
	if gotDF, _ := r.DisplayFunction(); gotDF != df {
		t.Fatalf("display function = %+v, want %+v", gotDF, df)
	}
	if gotCFA, _ := r.ColorFilterArray(); gotCFA != cfa {
		t.Fatalf("cfa = %+v, want %+v", gotCFA, cfa)
	}
	gotICC, err := r.ICCProfile()
	if err != nil {
		t.Fatalf("icc profile: %v", err)
	}
	if !bytes.Equal(gotICC, icc) {
		t.Fatalf("icc = %q", gotICC)
	}
	iopts, _ := r.ImageOptions()
	if iopts.XResolution != 30 || iopts.YResolution != 40 || !iopts.MetricResolution {
		t.Fatalf("resolution = %v x %v metric=%v", iopts.XResolution, iopts.YResolution, iopts.MetricResolution)
	}
	if iopts.CFAType != "RGGB" {
		t.Fatalf("cfa type = %q", iopts.CFAType)
	}

	gotThumb, err := r.Thumbnail()
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	thumbPix, _ := Pixels[uint8](gotThumb)
	if diff := cmp.Diff([]uint8{1, 2, 3, 4}, thumbPix); diff != "" {
		t.Fatalf("thumbnail mismatch (-want +got):\n%s", diff)
	}

	name, err := r.Property("Observation:Object:Name")
	if err != nil {
		t.Fatalf("property: %v", err)
	}
	if name.String() != "Andromeda Galaxy" {
		t.Fatalf("object name = %q", name.String())
	}
	start, err := r.Property("Observation:Time:Start")
	if err != nil {
		t.Fatalf("property: %v", err)
	}
	if !start.Equal(MustValue(when)) {
		t.Fatalf("start time = %v", start)
	}
	ident, err := r.Property("XISF:ImageIdentifier")
	if err != nil || ident.String() != "M31_Ha" {
		t.Fatalf("image identifier = %v, %v", ident, err)
	}
	app, err := r.Property("XISF:CreatorApplication")
	if err != nil || app.String() != "xisf-go" {
		t.Fatalf("creator application = %v, %v", app, err)
	}
	if v, err := r.Property("XISF:CreationTime"); err != nil || v.Type() != TypeTimePoint {
		t.Fatalf("creation time = %v, %v", v, err)
	}
}

func TestPropertyTypesRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewMatrix[int16](2, 3)
	for i := range m.Data {
		m.Data[i] = int16(i * 100)
	}
	big := make([]float64, 1000)
	for i := range big {
		big[i] = math.Sqrt(float64(i))
	}
	props := map[string]Value{
		"Test:Bool":       MustValue(true),
		"Test:Int8":       MustValue(int8(-7)),
		"Test:Int16":      MustValue(int16(-300)),
		"Test:Int32":      MustValue(int32(-70000)),
		"Test:Int64":      MustValue(int64(-1) << 40),
		"Test:UInt8":      MustValue(uint8(200)),
		"Test:UInt16":     MustValue(uint16(60000)),
		"Test:UInt32":     MustValue(uint32(4000000000)),
		"Test:UInt64":     MustValue(uint64(1) << 63),
		"Test:Float32":    MustValue(float32(0.1)),
		"Test:Float64":    MustValue(math.Pi),
		"Test:Complex32":  MustValue(complex64(complex(1.5, -2))),
		"Test:Complex64":  MustValue(complex(math.E, math.Pi)),
		"Test:Time":       MustValue(time.Date(2023, 1, 2, 3, 4, 5, 600000000, time.UTC)),
		"Test:String":     MustValue(strings.Repeat("Orion Nebula ", 20)),
		"Test:Short":      MustValue("M42"),
		"Test:String16":   NewString16Value(strings.Repeat("Ωμέγα ", 40)),
		"Test:I32Vector":  MustValue([]int32{1, -2, 3, -4}),
		"Test:UI8Vector":  MustValue([]uint8{9, 8, 7}),
		"Test:F64Vector":  MustValue(big),
		"Test:C32Vector":  MustValue([]complex64{1 + 2i, 3 - 4i}),
		"Test:I16Matrix":  MustValue(m),
		"Test:EmptyVec":   MustValue([]float32{}),
		"Test:EmptyText":  MustValue(""),
		"Nested:Deep:Key": MustValue(uint8(1)),
	}

	for _, codec := range []Codec{CodecNone, CodecZlib, CodecLZ4Sh} {
		t.Run(codec.String(), func(t *testing.T) {
			t.Parallel()

			opts := DefaultOptions()
			opts.Compression = codec
			data := encodeUnit(t, opts, func(w *Writer) error {
				for id, v := range props {
					if err := w.SetProperty(id, v); err != nil {
						return err
					}
				}
				img, err := NewImage(ImageInfo{Width: 2, Height: 2, Channels: 1, ColorSpace: ColorSpaceGray}, FormatFloat32)
				if err != nil {
					return err
				}
				return w.WriteImage(img)
			})

			r := decodeUnit(t, opts, data)
			for id, want := range props {
				got, err := r.Property(id)
				if err != nil {
					t.Fatalf("property %s: %v", id, err)
				}
				if !got.Equal(want) {
					t.Fatalf("property %s = %v (%s), want %v (%s)", id, got, got.Type(), want, want.Type())
				}
			}
		})
	}
}

func TestCompressedImageRoundTrip(t *testing.T) {
	t.Parallel()

	info := ImageInfo{Width: 64, Height: 48, Channels: 1, ColorSpace: ColorSpaceGray}
	pix := rampUInt16(info.NumberOfSamples())

	for _, codec := range []Codec{CodecZlib, CodecZlibSh, CodecLZ4, CodecLZ4Sh, CodecLZ4HC, CodecLZ4HCSh} {
		t.Run(codec.String(), func(t *testing.T) {
			t.Parallel()

			opts := DefaultOptions()
			opts.Compression = codec
			opts.CompressionLevel = 50
			opts.Checksum = ChecksumSHA256
			opts.MaxInlineBlockSize = 0
			data := encodeUnit(t, opts, func(w *Writer) error {
				iopts := DefaultImageOptions()
				iopts.SampleFormat = FormatUInt16
				if err := w.SetImageOptions(iopts); err != nil {
					return err
				}
				img, err := NewImageFrom(info, pix)
				if err != nil {
					return err
				}
				return w.WriteImage(img)
			})

			header := headerOf(t, data)
			if !strings.Contains(header, `compression="`+codec.String()+`:`) {
				t.Fatalf("header lacks %s compression attribute", codec)
			}
			if !strings.Contains(header, `id="XISF:CompressionCodecs"`) {
				t.Fatalf("header lacks XISF:CompressionCodecs")
			}

			r := decodeUnit(t, opts, data)
			img, err := r.ReadImage()
			if err != nil {
				t.Fatalf("read image: %v", err)
			}
			got, _ := Pixels[uint16](img)
			if diff := cmp.Diff(pix, got); diff != "" {
				t.Fatalf("pixels mismatch (-want +got):\n%s", diff)
			}

			dst := make([]uint16, info.Width)
			if err := ReadSamples(r, dst, 3, 1, 0); !errors.Is(err, ErrIncrementalCompressed) {
				t.Fatalf("incremental read of compressed block: got %v, want %v", err, ErrIncrementalCompressed)
			}
		})
	}
}

func TestOversizedBlockStoredUncompressed(t *testing.T) {
	t.Parallel()

	info := ImageInfo{Width: 16, Height: 8, Channels: 1, ColorSpace: ColorSpaceGray}
	pix := make([]uint8, info.NumberOfSamples())
	for i := range pix {
		pix[i] = uint8(i / 16)
	}
	write := func(opts Options) (*Writer, *bytes.Buffer, error) {
		var buf bytes.Buffer
		w := NewWriter(opts)
		w.maxCompressSize = 64
		if err := w.CreateTo(&buf, "big.xisf"); err != nil {
			t.Fatalf("create: %v", err)
		}
		iopts := DefaultImageOptions()
		iopts.SampleFormat = FormatUInt8
		if err := w.SetImageOptions(iopts); err != nil {
			t.Fatalf("set image options: %v", err)
		}
		img, err := NewImageFrom(info, pix)
		if err != nil {
			t.Fatalf("new image: %v", err)
		}
		if err := w.WriteImage(img); err != nil {
			return w, &buf, err
		}
		return w, &buf, w.Close()
	}

	opts := DefaultOptions()
	opts.Compression = CodecZlib
	opts.MaxInlineBlockSize = 0
	w, buf, err := write(opts)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if w := w.Warnings(); len(w) != 1 || !strings.HasPrefix(w[0], "Storing an uncompressed block of 128 bytes") {
		t.Fatalf("warnings = %q", w)
	}
	header := headerOf(t, buf.Bytes())
	start := strings.Index(header, "<Image ")
	end := strings.Index(header[start:], ">")
	if strings.Contains(header[start:start+end], "compression=") {
		t.Fatalf("oversized image block was compressed: %s", header[start:start+end])
	}
	r := decodeUnit(t, DefaultOptions(), buf.Bytes())
	img, err := r.ReadImage()
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	got, _ := Pixels[uint8](img)
	if diff := cmp.Diff(pix, got); diff != "" {
		t.Fatalf("pixels mismatch (-want +got):\n%s", diff)
	}

	opts.WarningsAreErrors = true
	if _, _, err := write(opts); !errors.Is(err, ErrWarning) {
		t.Fatalf("oversized block with warnings as errors: got %v", err)
	}
}

func TestChecksumMismatch(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Checksum = ChecksumSHA1
	info := ImageInfo{Width: 64, Height: 64, Channels: 1, ColorSpace: ColorSpaceGray}
	data := encodeUnit(t, opts, func(w *Writer) error {
		iopts := DefaultImageOptions()
		iopts.SampleFormat = FormatUInt8
		if err := w.SetImageOptions(iopts); err != nil {
			return err
		}
		img, err := NewImage(info, FormatUInt8)
		if err != nil {
			return err
		}
		return w.WriteImage(img)
	})
	if !strings.Contains(headerOf(t, data), `checksum="sha1:`) {
		t.Fatalf("header lacks checksum attribute")
	}

	intact := decodeUnit(t, opts, data)
	if _, err := intact.ReadImage(); err != nil {
		t.Fatalf("read intact image: %v", err)
	}

	corrupt := bytes.Clone(data)
	corrupt[len(corrupt)-1] ^= 0xff
	r := decodeUnit(t, opts, corrupt)
	if _, err := r.ReadImage(); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("read corrupt image: got %v, want %v", err, ErrChecksumMismatch)
	}
}

var attachmentRE = regexp.MustCompile(`location="attachment:(\d+):(\d+)"`)

func TestBlockAlignment(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	info := ImageInfo{Width: 70, Height: 70, Channels: 1, ColorSpace: ColorSpaceGray}
	data := encodeUnit(t, opts, func(w *Writer) error {
		iopts := DefaultImageOptions()
		iopts.SampleFormat = FormatUInt8
		if err := w.SetImageOptions(iopts); err != nil {
			return err
		}
		for range 2 {
			img, err := NewImage(info, FormatUInt8)
			if err != nil {
				return err
			}
			pix, _ := Pixels[uint8](img)
			for i := range pix {
				pix[i] = 0xaa
			}
			if err := w.WriteImage(img); err != nil {
				return err
			}
		}
		return nil
	})

	header := headerOf(t, data)
	matches := attachmentRE.FindAllStringSubmatch(header, -1)
	if len(matches) != 2 {
		t.Fatalf("attachments = %d, want 2", len(matches))
	}
	end := SignatureSize + len(header)
	for _, m := range matches {
		pos, _ := strconv.Atoi(m[1])
		size, _ := strconv.Atoi(m[2])
		if pos%DefaultBlockAlignmentSize != 0 {
			t.Fatalf("block at %d is not aligned", pos)
		}
		if size != info.NumberOfSamples() {
			t.Fatalf("block size = %d", size)
		}
		for i := end; i < pos; i++ {
			if data[i] != 0 {
				t.Fatalf("nonzero padding byte at %d", i)
			}
		}
		if data[pos] != 0xaa {
			t.Fatalf("block data missing at %d", pos)
		}
		end = pos + size
	}
	if end != len(data) {
		t.Fatalf("file size = %d, last block ends at %d", len(data), end)
	}
}

func TestIncrementalWriteRead(t *testing.T) {
	t.Parallel()

	info := ImageInfo{Width: 8, Height: 6, Channels: 2, ColorSpace: ColorSpaceGray}
	pix := rampFloat32(info.NumberOfSamples())
	path := filepath.Join(t.TempDir(), "incremental.xisf")

	opts := DefaultOptions()
	opts.MaxInlineBlockSize = 0
	w := NewWriter(opts)
	if err := w.Create(path); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := WriteSamples(w, pix[:8], 0, 1, 0); !errors.Is(err, ErrNoIncrementalImage) {
		t.Fatalf("write before create image: got %v", err)
	}
	if err := w.CreateImage(info); err != nil {
		t.Fatalf("create image: %v", err)
	}
	if err := WriteSamples(w, []uint16{1}, 0, 1, 0); !errors.Is(err, ErrSampleType) {
		t.Fatalf("write wrong type: got %v", err)
	}
	if err := WriteSamples(w, pix, 5, 2, 0); !errors.Is(err, ErrRowRange) {
		t.Fatalf("write past last row: got %v", err)
	}
	plane := info.Width * info.Height
	for c := range info.Channels {
		for row := info.Height - 1; row >= 0; row-- {
			off := c*plane + row*info.Width
			if err := WriteSamples(w, pix[off:off+info.Width], row, 1, c); err != nil {
				t.Fatalf("write row %d channel %d: %v", row, c, err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r := NewReader(opts)
	if err := r.Open(path); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = r.Close() }()

	dst := make([]float32, 3*info.Width)
	if err := ReadSamples(r, dst, 2, 3, 1); err != nil {
		t.Fatalf("read samples: %v", err)
	}
	want := pix[plane+2*info.Width : plane+5*info.Width]
	if diff := cmp.Diff(want, dst); diff != "" {
		t.Fatalf("samples mismatch (-want +got):\n%s", diff)
	}
	if err := ReadSamples(r, make([]float64, info.Width), 0, 1, 0); !errors.Is(err, ErrSampleType) {
		t.Fatalf("read wrong type: got %v", err)
	}
	if err := ReadSamples(r, dst, 0, 1, 2); !errors.Is(err, ErrInvalidAccess) {
		t.Fatalf("read bad channel: got %v", err)
	}
}

func TestIncrementalWriteStoresUncompressed(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Compression = CodecZlib
	info := ImageInfo{Width: 4, Height: 4, Channels: 1, ColorSpace: ColorSpaceGray}

	var buf bytes.Buffer
	w := NewWriter(opts)
	if err := w.CreateTo(&buf, "incremental"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.CreateImage(info); err != nil {
		t.Fatalf("create image: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	warnings := w.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "uncompressed") {
		t.Fatalf("warnings = %q", warnings)
	}

	data := buf.Bytes()
	header := headerOf(t, data)
	if strings.Contains(header, `compression="zlib`) {
		t.Fatalf("incremental image block was compressed")
	}
	r := decodeUnit(t, opts, data)
	dst := make([]float32, info.Width)
	if err := ReadSamples(r, dst, 1, 1, 0); err != nil {
		t.Fatalf("read samples: %v", err)
	}
}

func TestWriteImageConvertsSampleFormat(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	info := ImageInfo{Width: 4, Height: 1, Channels: 1, ColorSpace: ColorSpaceGray}
	data := encodeUnit(t, opts, func(w *Writer) error {
		iopts := DefaultImageOptions()
		iopts.SampleFormat = FormatUInt16
		if err := w.SetImageOptions(iopts); err != nil {
			return err
		}
		img, err := NewImageFrom(info, []float32{0, 0.5, 1, 0.25})
		if err != nil {
			return err
		}
		return w.WriteImage(img)
	})

	r := decodeUnit(t, opts, data)
	img, err := r.ReadImage()
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if img.Format != FormatUInt16 {
		t.Fatalf("format = %s", img.Format)
	}
	got, _ := Pixels[uint16](img)
	if diff := cmp.Diff([]uint16{0, 32768, 65535, 16384}, got); diff != "" {
		t.Fatalf("pixels mismatch (-want +got):\n%s", diff)
	}
}

func TestReservedPropertiesAreIgnored(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	data := encodeUnit(t, opts, func(w *Writer) error {
		if err := w.SetImageProperty("XISF:Note", MustValue("x")); err != nil {
			return err
		}
		if err := w.SetProperty("XISF:CreatorOS", MustValue("TempleOS")); err != nil {
			return err
		}
		if err := w.SetProperty("XISF:Custom:Note", MustValue("kept")); err != nil {
			return err
		}
		if got := len(w.Warnings()); got != 2 {
			t.Errorf("warnings = %d, want 2", got)
		}
		img, err := NewImage(ImageInfo{Width: 1, Height: 1, Channels: 1, ColorSpace: ColorSpaceGray}, FormatFloat32)
		if err != nil {
			return err
		}
		return w.WriteImage(img)
	})

	r := decodeUnit(t, opts, data)
	if _, err := r.Property("XISF:Note"); !errors.Is(err, ErrPropertyNotFound) {
		t.Fatalf("reserved image property was written: %v", err)
	}
	if v, err := r.Property("XISF:CreatorOS"); err != nil || v.String() == "TempleOS" {
		t.Fatalf("creator OS = %v, %v", v, err)
	}
	if v, err := r.Property("XISF:Custom:Note"); err != nil || v.String() != "kept" {
		t.Fatalf("custom metadata = %v, %v", v, err)
	}
}

func TestWriterPropertyValidation(t *testing.T) {
	t.Parallel()

	w := NewWriter(DefaultOptions())
	if err := w.SetImageProperty("1bad", MustValue(1.0)); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("bad id: got %v", err)
	}
	if err := w.SetProperty("Good:Id", Value{}); !errors.Is(err, ErrInvalidProperty) {
		t.Fatalf("invalid value: got %v", err)
	}
	if err := w.SetProperty("Good:Time", MustValue(time.Time{})); !errors.Is(err, ErrInvalidProperty) {
		t.Fatalf("zero time: got %v", err)
	}
	empty := Value{typ: TypeF64Matrix, v: NewMatrix[float64](0, 3)}
	if err := w.SetProperty("Good:Matrix", empty); !errors.Is(err, ErrInvalidProperty) {
		t.Fatalf("empty matrix: got %v", err)
	}
	if err := w.SetImageProperty("Good:Matrix", empty); !errors.Is(err, ErrInvalidProperty) {
		t.Fatalf("empty image matrix: got %v", err)
	}
	if err := w.SetImageID("has space"); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("bad image id: got %v", err)
	}
	if err := w.WriteImage(nil); !errors.Is(err, ErrInvalidAccess) {
		t.Fatalf("write on closed writer: got %v", err)
	}

	strict := DefaultOptions()
	strict.WarningsAreErrors = true
	sw := NewWriter(strict)
	if err := sw.SetImageProperty("XISF:Note", MustValue("x")); !errors.Is(err, ErrWarning) {
		t.Fatalf("reserved id with warnings as errors: got %v", err)
	}
}

func TestThumbnailLimits(t *testing.T) {
	t.Parallel()

	w := NewWriter(DefaultOptions())
	big, err := NewImage(ImageInfo{Width: MaxThumbnailSize + 1, Height: 1, Channels: 1, ColorSpace: ColorSpaceGray}, FormatUInt8)
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if err := w.SetThumbnail(big); err != nil {
		t.Fatalf("set big thumbnail: %v", err)
	}
	if len(w.Warnings()) != 1 {
		t.Fatalf("warnings = %q", w.Warnings())
	}
	f, err := NewImage(ImageInfo{Width: 2, Height: 2, Channels: 1, ColorSpace: ColorSpaceGray}, FormatFloat32)
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if err := w.SetThumbnail(f); !errors.Is(err, ErrThumbnail) {
		t.Fatalf("float thumbnail: got %v", err)
	}
	wide, err := NewImageFrom(ImageInfo{Width: 2, Height: 1, Channels: 1, ColorSpace: ColorSpaceGray}, []uint16{0, 65535})
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if err := w.SetThumbnail(wide); err != nil {
		t.Fatalf("16-bit thumbnail: %v", err)
	}
	got, _ := Pixels[uint8](w.img.thumb)
	if diff := cmp.Diff([]uint8{0, 255}, got); diff != "" {
		t.Fatalf("thumbnail mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "unit.xisf")
	w := NewWriter(DefaultOptions())
	if err := w.Create(path); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Create(path); !errors.Is(err, ErrInvalidAccess) {
		t.Fatalf("second create: got %v", err)
	}
	img, err := NewImage(ImageInfo{Width: 3, Height: 3, Channels: 3, ColorSpace: ColorSpaceRGB}, FormatFloat32)
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if err := w.WriteImage(img); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w.IsOpen() {
		t.Fatalf("writer still open after close")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !bytes.HasPrefix(data, []byte(Magic)) {
		t.Fatalf("missing signature")
	}
	header := headerOf(t, data)
	if !strings.HasPrefix(header, "<?xml") || !strings.Contains(header, "<!--") {
		t.Fatalf("unexpected header prologue: %.60q", header)
	}
	if !strings.Contains(header, `bounds="0:1"`) {
		t.Fatalf("float image without bounds attribute")
	}
}
