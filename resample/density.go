// Package resample converts the raw point samples of a deep pixel into
// OpenEXR deep samples.
//
// A point source gives, per pixel, an unordered list of depths with an
// alpha (or an accumulated opacity) and optionally a colour. Resampling
// sorts the points, merges points at the same depth, and emits either
// discrete samples (no depth extent) or continuous samples whose back depth
// is the next sample's front depth, with the last one extended by the
// densest interval seen.
//
// Visibility (1 - alpha) and density arithmetic is carried in float64 and
// only narrowed when samples are stored.
package resample

import (
	"math"
)

// Numeric limits of the density model.
const (
	// MinViz is the smallest visibility a sample may have. It keeps the
	// logarithms finite for fully opaque samples.
	MinViz = 1e-6

	// DzOfViz0 is the depth extent given to a fully opaque sample.
	DzOfViz0 = 1e-4

	// DensityOfViz0 is the density of a fully opaque sample: the density
	// that brings visibility from 1 to MinViz over DzOfViz0.
	DensityOfViz0 = 13.815510557964274 / DzOfViz0

	// MinNonZeroDensity is the density assumed when a partially visible
	// sample has no interval to derive one from.
	MinNonZeroDensity = 1e-5

	// MaxDZ bounds extrapolated depth extents.
	MaxDZ = 1e5

	// MaxDepth bounds every stored depth.
	MaxDepth = 1e30
)

// DensityFromVizDz returns the density that attenuates visibility 1 to viz
// over a depth interval dz: -ln(viz) / dz.
func DensityFromVizDz(viz, dz float64) float64 {
	switch {
	case viz >= 1:
		return 0
	case viz <= 0, dz <= 0:
		return DensityOfViz0
	}
	d := -math.Log(viz) / dz
	if math.IsInf(d, 0) || math.IsNaN(d) {
		return DensityOfViz0
	}
	return d
}

// DensityTimesDzFromViz returns -ln(viz), the product of density and depth
// extent for a visibility.
func DensityTimesDzFromViz(viz float64) float64 {
	switch {
	case viz >= 1:
		return 0
	case viz <= 0:
		return DensityOfViz0 * DzOfViz0
	}
	d := -math.Log(viz)
	if math.IsInf(d, 0) || math.IsNaN(d) {
		return DensityOfViz0 * DzOfViz0
	}
	return d
}

// DzFromVizDensity returns the depth extent over which density attenuates
// visibility 1 to viz: -ln(viz) / density.
func DzFromVizDensity(viz, density float64) float64 {
	switch {
	case viz >= 1:
		return 0
	case viz <= 0:
		return DzOfViz0
	}
	if density <= 0 {
		density = MinNonZeroDensity
	}
	dz := -math.Log(viz) / density
	if math.IsInf(dz, 0) || math.IsNaN(dz) {
		return MaxDZ
	}
	return dz
}

// ClampViz limits a visibility to [MinViz, 1]. NaN becomes 1.
func ClampViz(viz float64) float64 {
	switch {
	case math.IsNaN(viz), viz >= 1:
		return 1
	case viz < MinViz:
		return MinViz
	}
	return viz
}

// ClampAlpha limits an alpha to [0, 1]. NaN becomes 0.
func ClampAlpha(a float64) float64 {
	switch {
	case math.IsNaN(a), a <= 0:
		return 0
	case a >= 1:
		return 1
	}
	return a
}

// ClampDepth makes a depth finite: NaN becomes 0, everything else is
// limited to [-MaxDepth, MaxDepth].
func ClampDepth(z float64) float32 {
	switch {
	case math.IsNaN(z):
		return 0
	case z > MaxDepth:
		return MaxDepth
	case z < -MaxDepth:
		return -MaxDepth
	}
	return float32(z)
}

// ZeroNaN returns 0 for NaN and v otherwise.
func ZeroNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// IncrementPositiveFloat returns the next float32 above f.
func IncrementPositiveFloat(f float32) float32 {
	return math.Nextafter32(f, math.MaxFloat32)
}
