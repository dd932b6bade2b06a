package resample

import (
	"math"
	"testing"
)

func TestSimplifyKeepsEndpoints(t *testing.T) {
	var s simplifier
	// Accumulated opacity rising linearly with depth: every interior point
	// is on the line between the ends.
	points := []RawPoint{
		{Depth: 4, Alpha: 0.8},
		{Depth: 1, Alpha: 0.2},
		{Depth: 2, Alpha: 0.4},
		{Depth: 3, Alpha: 0.6},
	}
	got := s.simplify(nil, points, 1e-3, Parameters{DeepOpacity: true}, false)
	if len(got) != 2 {
		t.Fatalf("simplify returned %d points, want 2: %+v", len(got), got)
	}
	if got[0].Depth != 1 || got[1].Depth != 4 {
		t.Errorf("depths = %v, %v, want 1, 4", got[0].Depth, got[1].Depth)
	}
	if math.Abs(float64(got[1].Alpha)-0.8) > 1e-6 {
		t.Errorf("last opacity = %v, want 0.8", got[1].Alpha)
	}
}

func TestSimplifyKeepsCorners(t *testing.T) {
	var s simplifier
	points := []RawPoint{
		{Depth: 1, Alpha: 0.1},
		{Depth: 2, Alpha: 0.9},
		{Depth: 3, Alpha: 0.91},
	}
	got := s.simplify(nil, points, 1e-3, Parameters{DeepOpacity: true}, false)
	if len(got) != 3 {
		t.Errorf("simplify returned %d points, want 3", len(got))
	}
}

func TestSimplifyPreservesAccumulatedAlpha(t *testing.T) {
	var s simplifier
	points := []RawPoint{
		{Depth: 1, Alpha: 0.1},
		{Depth: 2, Alpha: 0.1},
		{Depth: 3, Alpha: 0.1},
		{Depth: 10, Alpha: 0.9},
	}
	got := s.simplify(nil, points, 0.5, Parameters{}, false)

	acc := func(pts []RawPoint) float64 {
		v := 1.0
		for _, p := range pts {
			v *= 1 - float64(p.Alpha)
		}
		return 1 - v
	}
	if want := acc(points); math.Abs(acc(got)-want) > 1e-6 {
		t.Errorf("accumulated alpha = %v, want %v", acc(got), want)
	}
	if len(got) >= len(points) {
		t.Errorf("simplify kept %d of %d points", len(got), len(points))
	}
}

func TestStrategyWithCompressionError(t *testing.T) {
	p := Parameters{DeepOpacity: true, Discrete: true, DiscardZeroAlpha: true, CompressionError: 1e-3}
	points := []RawPoint{
		{Depth: 1, Alpha: 0.2},
		{Depth: 2, Alpha: 0.4},
		{Depth: 3, Alpha: 0.6},
		{Depth: 4, Alpha: 0.8},
	}
	px := process(t, 1, p, points)
	if px.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", px.Len())
	}
	// The front sample carries opacity 0.2, the back one takes the
	// remaining step to 0.8.
	viz := (1 - px.Alpha[0]) * (1 - px.Alpha[1])
	if math.Abs(viz-0.2) > 1e-5 {
		t.Errorf("final visibility = %v, want 0.2", viz)
	}
}
