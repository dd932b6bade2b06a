package resample

import (
	"errors"
	"fmt"
)

// ErrUnsupportedChannels is returned for point sources whose channel
// count is not 1, 3 or 4.
var ErrUnsupportedChannels = errors.New("resample: only 1, 3 or 4 channel sources are supported")

// Parameters select how points are interpreted and resampled.
type Parameters struct {
	// DeepOpacity means single-channel points hold accumulated opacity
	// rather than per-point alpha. Four-channel points are always alpha.
	DeepOpacity bool
	// Discrete emits point samples; otherwise samples span to the next one.
	Discrete bool
	// MultiplyColorByAlpha means source colour is unpremultiplied.
	MultiplyColorByAlpha bool
	// DiscardZeroAlpha drops fully transparent samples.
	DiscardZeroAlpha bool
	// CompressionError, when positive, simplifies pixels of more than one
	// point before resampling.
	CompressionError float32
}

// DefaultParameters returns the converter defaults: deep opacity, discrete,
// premultiplied colour, zero-alpha samples discarded, no simplification.
func DefaultParameters() Parameters {
	return Parameters{
		DeepOpacity:      true,
		Discrete:         true,
		DiscardZeroAlpha: true,
	}
}

// Strategy resamples the points of one pixel into px, which is reset
// first. A Strategy keeps scratch storage between pixels and must not be
// shared between goroutines.
type Strategy interface {
	Process(points []RawPoint, px *DeepPixel) error
	// RGBA reports whether the strategy emits colour.
	RGBA() bool
}

// NewStrategy returns the strategy for a source with numChannels channels.
// Three-channel sources are treated as single-channel, using the first.
func NewStrategy(numChannels int, p Parameters) (Strategy, error) {
	b := base{params: p}
	switch numChannels {
	case 4:
		b.rgba = true
		if p.Discrete {
			return &RGBADiscrete{b}, nil
		}
		return &RGBAContinuous{b}, nil
	case 1, 3:
	default:
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedChannels, numChannels)
	}
	switch {
	case p.DeepOpacity && p.Discrete:
		return &OpacityDiscrete{b}, nil
	case p.DeepOpacity:
		return &OpacityContinuous{b}, nil
	case p.Discrete:
		return &AlphaDiscrete{b}, nil
	default:
		return &AlphaContinuous{b}, nil
	}
}

// base holds what every strategy shares: parameters and span scratch.
type base struct {
	params  Parameters
	rgba    bool
	spans   []Sample
	simple  []RawPoint
	scratch simplifier
}

func (b *base) RGBA() bool {
	return b.rgba
}

// prepare resets px and applies simplification when configured.
func (b *base) prepare(points []RawPoint, px *DeepPixel) []RawPoint {
	px.Reset()
	if b.params.CompressionError > 0 && len(points) > 1 {
		b.simple = b.scratch.simplify(b.simple[:0], points, b.params.CompressionError, b.params, b.rgba)
		return b.simple
	}
	return points
}

// loadAlpha fills spans from per-point alphas.
func (b *base) loadAlpha(points []RawPoint) {
	b.spans = b.spans[:0]
	for j, pt := range points {
		z := ClampDepth(float64(pt.Depth))
		b.spans = append(b.spans, Sample{
			In:    z,
			Out:   z,
			Viz:   ClampViz(1 - ClampAlpha(float64(pt.Alpha))),
			Index: j,
		})
	}
	sortSamples(b.spans)
}

// loadOpacity fills spans from accumulated opacities. After sorting, the
// accumulated visibility is forced non-increasing and each span gets the
// visibility of its own step.
func (b *base) loadOpacity(points []RawPoint) {
	b.spans = b.spans[:0]
	for j, pt := range points {
		z := ClampDepth(float64(pt.Depth))
		b.spans = append(b.spans, Sample{
			In:      z,
			Out:     z,
			deepViz: ClampViz(1 - ClampAlpha(float64(pt.Alpha))),
			Index:   j,
		})
	}
	sortSamples(b.spans)

	prev := 1.0
	for i := range b.spans {
		s := &b.spans[i]
		if s.deepViz > prev {
			s.deepViz = prev
		}
		s.Viz = ClampViz(s.deepViz / prev)
		prev = s.deepViz
	}
}

// loadRGBA fills spans from four-channel points, unpremultiplying colour
// unless the source colour is already unpremultiplied.
func (b *base) loadRGBA(points []RawPoint) {
	b.spans = b.spans[:0]
	for j, pt := range points {
		z := ClampDepth(float64(pt.Depth))
		alpha := ClampAlpha(float64(pt.Alpha))
		r := ZeroNaN(float64(pt.R))
		g := ZeroNaN(float64(pt.G))
		bl := ZeroNaN(float64(pt.B))
		if alpha > 0 && !b.params.MultiplyColorByAlpha {
			r, g, bl = r/alpha, g/alpha, bl/alpha
		}
		b.spans = append(b.spans, Sample{
			In:    z,
			Out:   z,
			Viz:   ClampViz(1 - alpha),
			R:     r,
			G:     g,
			B:     bl,
			Index: j,
		})
	}
	sortSamples(b.spans)
}

// merge combines spans of equal depth into the first of them, multiplying
// visibilities and adding colours, and compacts the survivors in order.
// It returns the largest density between consecutive survivors, at least
// MinNonZeroDensity.
func (b *base) merge() float64 {
	spans := b.spans
	n := 0
	for i := 0; i < len(spans); {
		s := spans[i]
		j := i + 1
		for ; j < len(spans) && spans[j].In == s.In; j++ {
			s.Viz *= spans[j].Viz
			s.R += spans[j].R
			s.G += spans[j].G
			s.B += spans[j].B
		}
		s.Viz = ClampViz(s.Viz)
		spans[n] = s
		n++
		i = j
	}
	b.spans = spans[:n]

	maxDensity := MinNonZeroDensity
	for i := 0; i+1 < n; i++ {
		dz := float64(b.spans[i+1].In) - float64(b.spans[i].In)
		if d := DensityFromVizDz(b.spans[i].Viz, dz); d > maxDensity {
			maxDensity = d
		}
	}
	return maxDensity
}

// emitDiscrete writes every surviving span as a point sample.
func (b *base) emitDiscrete(px *DeepPixel) {
	for i := range b.spans {
		s := &b.spans[i]
		if b.params.DiscardZeroAlpha && s.Viz >= 1 {
			continue
		}
		b.emit(px, s.In, s.In, s)
	}
}

// emitContinuous writes the spans as depth intervals. Each span ends where
// the next begins; the last one is extended by the depth over which
// maxDensity produces its visibility.
func (b *base) emitContinuous(px *DeepPixel, maxDensity float64) {
	n := len(b.spans)
	if n == 1 {
		s := &b.spans[0]
		if b.params.DiscardZeroAlpha && s.Viz >= 1 {
			return
		}
		b.emit(px, s.In, ClampDepth(float64(IncrementPositiveFloat(s.In))), s)
		return
	}
	for i := range b.spans {
		s := &b.spans[i]
		if b.params.DiscardZeroAlpha && s.Viz >= 1 {
			continue
		}
		var out float32
		if i < n-1 {
			out = b.spans[i+1].In
		} else {
			// A transparent last span closes the volume and adds nothing.
			if s.Viz >= 1 {
				continue
			}
			dz := DzFromVizDensity(s.Viz, maxDensity)
			out = ClampDepth(float64(s.In) + dz)
			if out <= s.In {
				out = ClampDepth(float64(IncrementPositiveFloat(s.In)))
			}
		}
		b.emit(px, s.In, out, s)
	}
}

// emit appends one sample. Colour is premultiplied by alpha unless alpha
// is zero: zero-alpha glow samples were never unpremultiplied.
func (b *base) emit(px *DeepPixel, in, out float32, s *Sample) {
	alpha := ClampAlpha(1 - s.Viz)
	if !b.rgba {
		px.push(in, out, alpha)
		return
	}
	r, g, bl := s.R, s.G, s.B
	if alpha > 0 {
		r, g, bl = r*alpha, g*alpha, bl*alpha
	}
	px.pushRGBA(in, out, r, g, bl, alpha)
}

// OpacityDiscrete resamples single-channel accumulated opacity into point
// samples.
type OpacityDiscrete struct{ base }

func (s *OpacityDiscrete) Process(points []RawPoint, px *DeepPixel) error {
	points = s.prepare(points, px)
	if len(points) == 0 {
		return nil
	}
	s.loadOpacity(points)
	s.merge()
	s.emitDiscrete(px)
	return nil
}

// OpacityContinuous resamples single-channel accumulated opacity into
// depth intervals.
type OpacityContinuous struct{ base }

func (s *OpacityContinuous) Process(points []RawPoint, px *DeepPixel) error {
	points = s.prepare(points, px)
	if len(points) == 0 {
		return nil
	}
	s.loadOpacity(points)
	s.emitContinuous(px, s.merge())
	return nil
}

// AlphaDiscrete resamples single-channel alpha into point samples.
type AlphaDiscrete struct{ base }

func (s *AlphaDiscrete) Process(points []RawPoint, px *DeepPixel) error {
	points = s.prepare(points, px)
	if len(points) == 0 {
		return nil
	}
	s.loadAlpha(points)
	s.merge()
	s.emitDiscrete(px)
	return nil
}

// AlphaContinuous resamples single-channel alpha into depth intervals.
type AlphaContinuous struct{ base }

func (s *AlphaContinuous) Process(points []RawPoint, px *DeepPixel) error {
	points = s.prepare(points, px)
	if len(points) == 0 {
		return nil
	}
	s.loadAlpha(points)
	s.emitContinuous(px, s.merge())
	return nil
}

// RGBADiscrete resamples colour and alpha into point samples.
type RGBADiscrete struct{ base }

func (s *RGBADiscrete) Process(points []RawPoint, px *DeepPixel) error {
	points = s.prepare(points, px)
	if len(points) == 0 {
		return nil
	}
	s.loadRGBA(points)
	s.merge()
	s.emitDiscrete(px)
	return nil
}

// RGBAContinuous resamples colour and alpha into depth intervals.
type RGBAContinuous struct{ base }

func (s *RGBAContinuous) Process(points []RawPoint, px *DeepPixel) error {
	points = s.prepare(points, px)
	if len(points) == 0 {
		return nil
	}
	s.loadRGBA(points)
	s.emitContinuous(px, s.merge())
	return nil
}
