package resample

import (
	"sort"
)

// RawPoint is one point of a pixel as a point source stores it.
type RawPoint struct {
	Depth float32
	// Alpha is the point's alpha, or the opacity accumulated up to and
	// including the point for deep opacity sources.
	Alpha float32
	// R, G, B are present for four-channel sources only.
	R, G, B float32
}

// Sample is a point being resampled.
type Sample struct {
	In, Out float32
	Viz     float64
	// R, G, B are unpremultiplied.
	R, G, B float64
	// Index is the point's position in the source, the tie-break of equal
	// depths.
	Index int

	// deepViz is the accumulated visibility of deep opacity input.
	deepViz float64
}

// sortSamples orders samples by depth, then source index.
func sortSamples(s []Sample) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].In != s[j].In {
			return s[i].In < s[j].In
		}
		return s[i].Index < s[j].Index
	})
}

// DeepPixel holds the output samples of one pixel. All slices have the same
// length; a pixel without samples is a hole. Colour slices are empty for
// single-channel output.
type DeepPixel struct {
	Front, Back []float32
	Red         []float64
	Green       []float64
	Blue        []float64
	Alpha       []float64
}

// Len returns the number of samples.
func (p *DeepPixel) Len() int {
	return len(p.Front)
}

// IsHole reports whether the pixel has no samples.
func (p *DeepPixel) IsHole() bool {
	return len(p.Front) == 0
}

// Reset empties the pixel, keeping its storage.
func (p *DeepPixel) Reset() {
	p.Front = p.Front[:0]
	p.Back = p.Back[:0]
	p.Red = p.Red[:0]
	p.Green = p.Green[:0]
	p.Blue = p.Blue[:0]
	p.Alpha = p.Alpha[:0]
}

func (p *DeepPixel) push(in, out float32, alpha float64) {
	p.Front = append(p.Front, in)
	p.Back = append(p.Back, out)
	p.Alpha = append(p.Alpha, alpha)
}

func (p *DeepPixel) pushRGBA(in, out float32, r, g, b, alpha float64) {
	p.push(in, out, alpha)
	p.Red = append(p.Red, r)
	p.Green = append(p.Green, g)
	p.Blue = append(p.Blue, b)
}
