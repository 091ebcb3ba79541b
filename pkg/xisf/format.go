package xisf

import (
	"fmt"
	"math"
	"math/bits"
	"slices"

	"golang.org/x/text/cases"
)

// foldID case-folds a format identifier. XISF identifiers for sample
// formats, color spaces, property types, encodings and codecs are
// case-insensitive.
func foldID(s string) string {
	return cases.Fold().String(s)
}

// SampleFormat identifies the data type of image pixel samples.
type SampleFormat uint8

const (
	FormatUnknown SampleFormat = iota
	FormatUInt8
	FormatUInt16
	FormatUInt32
	FormatFloat32
	FormatFloat64
	FormatComplex32
	FormatComplex64
)

var sampleFormatIDs = [...]string{
	FormatUInt8:     "UInt8",
	FormatUInt16:    "UInt16",
	FormatUInt32:    "UInt32",
	FormatFloat32:   "Float32",
	FormatFloat64:   "Float64",
	FormatComplex32: "Complex32",
	FormatComplex64: "Complex64",
}

func (f SampleFormat) String() string {
	if f == FormatUnknown || int(f) >= len(sampleFormatIDs) {
		return fmt.Sprintf("SampleFormat(%d)", uint8(f))
	}
	return sampleFormatIDs[f]
}

// ParseSampleFormat maps a sampleFormat attribute value to a SampleFormat.
func ParseSampleFormat(id string) (SampleFormat, error) {
	switch foldID(id) {
	case "uint8":
		return FormatUInt8, nil
	case "uint16":
		return FormatUInt16, nil
	case "uint32":
		return FormatUInt32, nil
	case "float32":
		return FormatFloat32, nil
	case "float64":
		return FormatFloat64, nil
	case "complex32":
		return FormatComplex32, nil
	case "complex64":
		return FormatComplex64, nil
	case "uint64":
		return FormatUnknown, fmt.Errorf("%w: 64-bit integer images are not supported", ErrUnsupportedFormat)
	}
	return FormatUnknown, fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, id)
}

// Valid reports whether f is one of the supported sample formats.
func (f SampleFormat) Valid() bool {
	return f > FormatUnknown && int(f) < len(sampleFormatIDs)
}

// BitsPerSample is the XISF bit depth. For complex formats this is the size
// of each component.
func (f SampleFormat) BitsPerSample() int {
	switch f {
	case FormatUInt8:
		return 8
	case FormatUInt16:
		return 16
	case FormatUInt32, FormatFloat32, FormatComplex32:
		return 32
	case FormatFloat64, FormatComplex64:
		return 64
	}
	return 0
}

// SampleSize is the size in bytes of one sample, both components included
// for complex formats.
func (f SampleFormat) SampleSize() int {
	n := f.BitsPerSample() >> 3
	if f.IsComplex() {
		n *= 2
	}
	return n
}

// componentSize is the unit of byte order conversion.
func (f SampleFormat) componentSize() int {
	return f.BitsPerSample() >> 3
}

func (f SampleFormat) IsFloat() bool {
	return f == FormatFloat32 || f == FormatFloat64 || f.IsComplex()
}

func (f SampleFormat) IsComplex() bool {
	return f == FormatComplex32 || f == FormatComplex64
}

// MaxSampleValue is the largest representable integer sample, or 1 for
// floating point formats.
func (f SampleFormat) MaxSampleValue() float64 {
	switch f {
	case FormatUInt8:
		return math.MaxUint8
	case FormatUInt16:
		return math.MaxUint16
	case FormatUInt32:
		return math.MaxUint32
	}
	return 1
}

// ColorSpace identifies the color space of an image.
type ColorSpace uint8

const (
	ColorSpaceUnknown ColorSpace = iota
	ColorSpaceGray
	ColorSpaceRGB
	ColorSpaceCIELab
)

func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceGray:
		return "Gray"
	case ColorSpaceRGB:
		return "RGB"
	case ColorSpaceCIELab:
		return "CIELab"
	}
	return fmt.Sprintf("ColorSpace(%d)", uint8(c))
}

// ParseColorSpace maps a colorSpace attribute value to a ColorSpace.
func ParseColorSpace(id string) (ColorSpace, error) {
	switch foldID(id) {
	case "gray":
		return ColorSpaceGray, nil
	case "rgb":
		return ColorSpaceRGB, nil
	case "cielab":
		return ColorSpaceCIELab, nil
	}
	return ColorSpaceUnknown, fmt.Errorf("invalid/unknown color space '%s'", id)
}

// ImageInfo describes the geometry and color space of an image.
type ImageInfo struct {
	Width      int
	Height     int
	Channels   int
	ColorSpace ColorSpace
}

// Valid reports whether the geometry is usable and the channel count is
// compatible with the color space.
func (i ImageInfo) Valid() bool {
	if i.Width < 1 || i.Height < 1 || i.Channels < 1 {
		return false
	}
	switch i.ColorSpace {
	case ColorSpaceGray:
		return true
	case ColorSpaceRGB, ColorSpaceCIELab:
		return i.Channels >= 3
	}
	return false
}

// NumberOfSamples is the total sample count across all channels.
func (i ImageInfo) NumberOfSamples() int {
	return i.Width * i.Height * i.Channels
}

// MaxImageDimension bounds the width, height and channel count of an image.
const MaxImageDimension = math.MaxInt32

// ByteSize returns the size in bytes of the pixel data of an image with
// samples of sampleSize bytes. ok is false when the geometry is invalid or
// the size does not fit in an int.
func (i ImageInfo) ByteSize(sampleSize int) (size uint64, ok bool) {
	if sampleSize < 1 {
		return 0, false
	}
	size = uint64(sampleSize)
	for _, d := range [...]int{i.Width, i.Height, i.Channels} {
		if d < 1 || d > MaxImageDimension {
			return 0, false
		}
		hi, lo := bits.Mul64(size, uint64(d))
		if hi != 0 || lo > math.MaxInt {
			return 0, false
		}
		size = lo
	}
	return size, true
}

// CFA pattern type identifiers accepted by the cfaType Image attribute.
var cfaTypes = []string{"BGGR", "GRBG", "GBRG", "RGGB", "CYGM"}

func validCFAType(s string) bool {
	return slices.Contains(cfaTypes, s)
}
