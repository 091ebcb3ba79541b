package xisf

import (
	"fmt"
	"strconv"
	"strings"
)

// RGBWorkingSpace holds the colorimetric parameters of an RGB image.
type RGBWorkingSpace struct {
	Gamma float32
	SRGB  bool       // sRGB gamma curve instead of a power law
	X     [3]float32 // chromaticity x coordinates of R, G, B
	Y     [3]float32 // chromaticity y coordinates
	L     [3]float32 // luminance coefficients
}

// SRGBWorkingSpace returns the sRGB working space, the implicit default.
func SRGBWorkingSpace() RGBWorkingSpace {
	return RGBWorkingSpace{
		Gamma: 2.2,
		SRGB:  true,
		X:     [3]float32{0.648431, 0.321152, 0.155886},
		Y:     [3]float32{0.330856, 0.597871, 0.066044},
		L:     [3]float32{0.222491, 0.716888, 0.060621},
	}
}

func (ws RGBWorkingSpace) IsSRGB() bool { return ws == SRGBWorkingSpace() }

// DisplayFunction is a per-channel screen transfer function: midtones,
// shadows and highlights clipping, plus low and high range expansion. The
// fourth element of each array applies to the combined RGB/K channel.
type DisplayFunction struct {
	M, S, H, L, R [4]float64
}

// IdentityDisplayFunction returns a display function that maps every value
// to itself.
func IdentityDisplayFunction() DisplayFunction {
	return DisplayFunction{
		M: [4]float64{0.5, 0.5, 0.5, 0.5},
		H: [4]float64{1, 1, 1, 1},
		R: [4]float64{1, 1, 1, 1},
	}
}

func (df DisplayFunction) IsIdentity() bool { return df == IdentityDisplayFunction() }

// ColorFilterArray describes the mosaic pattern of a raw sensor image.
type ColorFilterArray struct {
	Pattern string
	Width   int
	Height  int
	Name    string
}

func (c ColorFilterArray) IsEmpty() bool { return c.Pattern == "" }

// parseDisplayParams decodes four colon separated values in [lo, hi].
func parseDisplayParams(s string, lo, hi float64) ([4]float64, error) {
	var v [4]float64
	items := strings.Split(s, ":")
	if len(items) != 4 {
		return v, fmt.Errorf("malformed attribute")
	}
	for i, item := range items {
		f, err := strconv.ParseFloat(strings.TrimSpace(item), 64)
		if err != nil || f < lo || f > hi {
			return v, fmt.Errorf("invalid attribute component(value)")
		}
		v[i] = f
	}
	return v, nil
}

func formatDisplayParams(v [4]float64) string {
	return fmt.Sprintf("%.16g:%.16g:%.16g:%.16g", v[0], v[1], v[2], v[3])
}

func formatFloat32(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}
