package resample

import (
	"math"
	"testing"
)

func TestDensityFromVizDz(t *testing.T) {
	tests := []struct {
		name    string
		viz, dz float64
		want    float64
	}{
		{"transparent", 1, 1, 0},
		{"opaque", 0, 1, DensityOfViz0},
		{"no depth", 0.5, 0, DensityOfViz0},
		{"half over unit", 0.5, 1, math.Ln2},
		{"half over two", 0.5, 2, math.Ln2 / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DensityFromVizDz(tt.viz, tt.dz); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("DensityFromVizDz(%v, %v) = %v, want %v", tt.viz, tt.dz, got, tt.want)
			}
		})
	}
}

func TestDzFromVizDensityInvertsDensity(t *testing.T) {
	for _, viz := range []float64{0.9, 0.5, 0.1, 1e-3} {
		for _, dz := range []float64{0.01, 1, 250} {
			d := DensityFromVizDz(viz, dz)
			if got := DzFromVizDensity(viz, d); math.Abs(got-dz) > 1e-9*dz {
				t.Errorf("DzFromVizDensity(%v, %v) = %v, want %v", viz, d, got, dz)
			}
		}
	}
}

func TestDzFromVizDensityLimits(t *testing.T) {
	if got := DzFromVizDensity(1, 3); got != 0 {
		t.Errorf("DzFromVizDensity(1, 3) = %v, want 0", got)
	}
	if got := DzFromVizDensity(0, 3); got != DzOfViz0 {
		t.Errorf("DzFromVizDensity(0, 3) = %v, want %v", got, DzOfViz0)
	}
	want := -math.Log(0.5) / MinNonZeroDensity
	if got := DzFromVizDensity(0.5, 0); math.Abs(got-want) > 1e-6 {
		t.Errorf("DzFromVizDensity(0.5, 0) = %v, want %v", got, want)
	}
}

func TestDensityTimesDzFromViz(t *testing.T) {
	if got := DensityTimesDzFromViz(1); got != 0 {
		t.Errorf("DensityTimesDzFromViz(1) = %v, want 0", got)
	}
	if got := DensityTimesDzFromViz(0.25); math.Abs(got-2*math.Ln2) > 1e-12 {
		t.Errorf("DensityTimesDzFromViz(0.25) = %v, want %v", got, 2*math.Ln2)
	}
	// An opaque sample has the same optical depth as MinViz.
	if got, want := DensityTimesDzFromViz(0), -math.Log(MinViz); math.Abs(got-want) > 1e-9 {
		t.Errorf("DensityTimesDzFromViz(0) = %v, want %v", got, want)
	}
}

func TestClamps(t *testing.T) {
	nan := math.NaN()
	if got := ClampViz(nan); got != 1 {
		t.Errorf("ClampViz(NaN) = %v, want 1", got)
	}
	if got := ClampViz(0); got != MinViz {
		t.Errorf("ClampViz(0) = %v, want %v", got, MinViz)
	}
	if got := ClampViz(1.5); got != 1 {
		t.Errorf("ClampViz(1.5) = %v, want 1", got)
	}
	if got := ClampAlpha(nan); got != 0 {
		t.Errorf("ClampAlpha(NaN) = %v, want 0", got)
	}
	if got := ClampAlpha(-2); got != 0 {
		t.Errorf("ClampAlpha(-2) = %v, want 0", got)
	}
	if got := ClampAlpha(3); got != 1 {
		t.Errorf("ClampAlpha(3) = %v, want 1", got)
	}
	if got := ClampDepth(nan); got != 0 {
		t.Errorf("ClampDepth(NaN) = %v, want 0", got)
	}
	if got := ClampDepth(math.Inf(1)); got != MaxDepth {
		t.Errorf("ClampDepth(+Inf) = %v, want %v", got, float32(MaxDepth))
	}
	if got := ClampDepth(math.Inf(-1)); got != -MaxDepth {
		t.Errorf("ClampDepth(-Inf) = %v, want %v", got, float32(-MaxDepth))
	}
	if got := ZeroNaN(nan); got != 0 {
		t.Errorf("ZeroNaN(NaN) = %v, want 0", got)
	}
}

func TestIncrementPositiveFloat(t *testing.T) {
	for _, f := range []float32{0, 1, 2.5, 1e20} {
		got := IncrementPositiveFloat(f)
		if got <= f {
			t.Errorf("IncrementPositiveFloat(%v) = %v, want greater", f, got)
		}
		if math.Float32bits(got) != math.Float32bits(f)+1 {
			t.Errorf("IncrementPositiveFloat(%v) skipped values", f)
		}
	}
}
