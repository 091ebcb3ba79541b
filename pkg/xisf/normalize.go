package xisf

import "math"

// normalizeSamples rescales samples in place from [lo, hi] to the native
// range of their format. Complex samples have no defined range and are
// left untouched.
func normalizeSamples(pix any, lo, hi float64) {
	switch p := pix.(type) {
	case []float32:
		normalizeFloat(p, lo, hi)
	case []float64:
		normalizeFloat(p, lo, hi)
	case []uint8:
		normalizeInt(p, lo, hi, math.MaxUint8)
	case []uint16:
		normalizeInt(p, lo, hi, math.MaxUint16)
	case []uint32:
		normalizeInt(p, lo, hi, math.MaxUint32)
	}
}

// normalizeFloat clamps to [lo, hi] first, so the result never holds NaN
// or infinities, then maps to [0, 1].
func normalizeFloat[T float32 | float64](p []T, lo, hi float64) {
	for i, v := range p {
		x := float64(v)
		switch {
		case !finite(x) || x < lo:
			p[i] = T(lo)
		case x > hi:
			p[i] = T(hi)
		}
	}
	if lo == 0 && hi == 1 {
		return
	}
	r := hi - lo
	if 1+r != 1 {
		for i, v := range p {
			p[i] = T((float64(v) - lo) / r)
		}
		return
	}
	if lo < 0 || lo > 1 {
		f := T(min(max(lo, 0), 1))
		for i := range p {
			p[i] = f
		}
	}
}

func normalizeInt[T uint8 | uint16 | uint32](p []T, lo, hi, maxValue float64) {
	r0 := T(min(max(math.Ceil(lo), 0), maxValue))
	r1 := T(min(max(math.Floor(hi), 0), maxValue))
	for i, v := range p {
		switch {
		case v < r0:
			p[i] = r0
		case v > r1:
			p[i] = r1
		}
	}
	if lo <= 0 && hi >= maxValue {
		return
	}
	r := hi - lo
	if 1+r == 1 {
		return
	}
	scale := maxValue / r
	for i, v := range p {
		p[i] = T(min(max(math.Round((float64(v)-lo)*scale), 0), maxValue))
	}
}
