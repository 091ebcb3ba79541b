package xisf

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
)

// Sample is the set of Go types that hold image pixel samples.
type Sample interface {
	uint8 | uint16 | uint32 | float32 | float64 | complex64 | complex128
}

// formatOf returns the sample format stored in Go type T.
func formatOf[T Sample]() SampleFormat {
	var z T
	switch any(z).(type) {
	case uint8:
		return FormatUInt8
	case uint16:
		return FormatUInt16
	case uint32:
		return FormatUInt32
	case float32:
		return FormatFloat32
	case float64:
		return FormatFloat64
	case complex64:
		return FormatComplex32
	case complex128:
		return FormatComplex64
	}
	return FormatUnknown
}

// Image is an in-memory pixel buffer. Samples are planar: all samples of
// channel 0 row by row, then channel 1, and so on.
type Image struct {
	ImageInfo
	Format SampleFormat

	pix any
}

// NewImage allocates a zero-filled image.
func NewImage(info ImageInfo, format SampleFormat) (*Image, error) {
	if !info.Valid() {
		return nil, fmt.Errorf("%w: invalid image geometry %dx%dx%d (%s)", ErrInvalidAccess, info.Width, info.Height, info.Channels, info.ColorSpace)
	}
	if _, ok := info.ByteSize(max(format.SampleSize(), 1)); !ok {
		return nil, fmt.Errorf("%w: image geometry %dx%dx%d is too large", ErrInvalidAccess, info.Width, info.Height, info.Channels)
	}
	img := &Image{ImageInfo: info, Format: format}
	n := info.NumberOfSamples()
	switch format {
	case FormatUInt8:
		img.pix = make([]uint8, n)
	case FormatUInt16:
		img.pix = make([]uint16, n)
	case FormatUInt32:
		img.pix = make([]uint32, n)
	case FormatFloat32:
		img.pix = make([]float32, n)
	case FormatFloat64:
		img.pix = make([]float64, n)
	case FormatComplex32:
		img.pix = make([]complex64, n)
	case FormatComplex64:
		img.pix = make([]complex128, n)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return img, nil
}

// NewImageFrom wraps an existing planar sample slice without copying.
func NewImageFrom[T Sample](info ImageInfo, pix []T) (*Image, error) {
	if !info.Valid() {
		return nil, fmt.Errorf("%w: invalid image geometry %dx%dx%d (%s)", ErrInvalidAccess, info.Width, info.Height, info.Channels, info.ColorSpace)
	}
	if len(pix) != info.NumberOfSamples() {
		return nil, fmt.Errorf("%w: %d samples for a %dx%dx%d image", ErrInvalidAccess, len(pix), info.Width, info.Height, info.Channels)
	}
	return &Image{ImageInfo: info, Format: formatOf[T](), pix: pix}, nil
}

// Pixels returns the planar sample slice of img. T must match img.Format.
func Pixels[T Sample](img *Image) ([]T, error) {
	p, ok := img.pix.([]T)
	if !ok {
		return nil, fmt.Errorf("%w: image holds %s samples", ErrSampleType, img.Format)
	}
	return p, nil
}

// Channel returns the samples of one channel.
func Channel[T Sample](img *Image, c int) ([]T, error) {
	p, err := Pixels[T](img)
	if err != nil {
		return nil, err
	}
	if c < 0 || c >= img.Channels {
		return nil, fmt.Errorf("%w: channel %d of %d", ErrInvalidAccess, c, img.Channels)
	}
	n := img.Width * img.Height
	return p[c*n : (c+1)*n], nil
}

// Bytes returns the little-endian encoding of all samples.
func (img *Image) Bytes() []byte {
	b, err := binary.Append(make([]byte, 0, img.NumberOfSamples()*img.Format.SampleSize()), binary.LittleEndian, img.pix)
	if err != nil {
		return nil
	}
	return b
}

// setBytes decodes little-endian planar samples into the image.
func (img *Image) setBytes(b []byte) error {
	if want := img.NumberOfSamples() * img.Format.SampleSize(); len(b) != want {
		return fmt.Errorf("%w: inconsistent block size %d, expected %d", ErrCorruptFile, len(b), want)
	}
	_, err := binary.Decode(b, binary.LittleEndian, img.pix)
	return err
}

// deinterleave converts pixel-interleaved ("normal") sample bytes into
// planar order.
func deinterleave(b []byte, pixels, channels, sampleSize int) []byte {
	if channels < 2 {
		return b
	}
	out := make([]byte, len(b))
	for p := range pixels {
		for c := range channels {
			src := (p*channels + c) * sampleSize
			dst := (c*pixels + p) * sampleSize
			copy(out[dst:dst+sampleSize], b[src:src+sampleSize])
		}
	}
	return out
}

// toUInt8 converts a 16-bit thumbnail to 8 bits.
func toUInt8(img *Image) *Image {
	src, ok := img.pix.([]uint16)
	if !ok {
		return img
	}
	dst := make([]uint8, len(src))
	for i, v := range src {
		dst[i] = uint8((uint32(v) + 128) / 257)
	}
	return &Image{ImageInfo: img.ImageInfo, Format: FormatUInt8, pix: dst}
}

// sampleValues returns the samples of img as complex values. Integer
// samples are scaled to [0, 1].
func sampleValues(img *Image) []complex128 {
	out := make([]complex128, img.NumberOfSamples())
	scale := 1 / img.Format.MaxSampleValue()
	switch p := img.pix.(type) {
	case []uint8:
		for i, v := range p {
			out[i] = complex(float64(v)*scale, 0)
		}
	case []uint16:
		for i, v := range p {
			out[i] = complex(float64(v)*scale, 0)
		}
	case []uint32:
		for i, v := range p {
			out[i] = complex(float64(v)*scale, 0)
		}
	case []float32:
		for i, v := range p {
			out[i] = complex(float64(v), 0)
		}
	case []float64:
		for i, v := range p {
			out[i] = complex(v, 0)
		}
	case []complex64:
		for i, v := range p {
			out[i] = complex128(v)
		}
	case []complex128:
		copy(out, p)
	}
	return out
}

func toInteger[T uint8 | uint16 | uint32](dst []T, src []complex128, complexSrc bool, maxValue float64) {
	for i, c := range src {
		x := real(c)
		if complexSrc {
			x = cmplx.Abs(c)
		}
		dst[i] = T(math.Round(min(max(x, 0), 1) * maxValue))
	}
}

func toReal[T float32 | float64](dst []T, src []complex128, complexSrc bool) {
	for i, c := range src {
		x := real(c)
		if complexSrc {
			x = cmplx.Abs(c)
		}
		dst[i] = T(x)
	}
}

// convertImage returns a copy of img with samples in format f. Integer
// ranges map to [0, 1] and complex samples become their magnitude in real
// formats.
func convertImage(img *Image, f SampleFormat) (*Image, error) {
	if img.Format == f {
		return img, nil
	}
	out, err := NewImage(img.ImageInfo, f)
	if err != nil {
		return nil, err
	}
	src := sampleValues(img)
	cs := img.Format.IsComplex()
	switch p := out.pix.(type) {
	case []uint8:
		toInteger(p, src, cs, math.MaxUint8)
	case []uint16:
		toInteger(p, src, cs, math.MaxUint16)
	case []uint32:
		toInteger(p, src, cs, math.MaxUint32)
	case []float32:
		toReal(p, src, cs)
	case []float64:
		toReal(p, src, cs)
	case []complex64:
		for i, c := range src {
			p[i] = complex64(c)
		}
	case []complex128:
		copy(p, src)
	}
	return out, nil
}
