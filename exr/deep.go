package exr

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/mrjoshuak/go-openexr-deep/half"
)

// DeepSlice holds the samples of one channel for every pixel of a
// DeepFrameBuffer. Storage is a single arena allocated by
// DeepFrameBuffer.Allocate once the sample counts are known; the samples of
// pixel i occupy the arena range given by the frame buffer.
type DeepSlice struct {
	// Type is the pixel data type stored in this slice. It may differ from
	// the file's channel type; values are converted on read and write.
	Type PixelType

	// XSampling and YSampling must match the file channel. Zero means 1.
	XSampling int
	YSampling int

	// FillValue is written into every sample of a channel the file lacks.
	FillValue float64

	floats []float32
	halves []half.Half
	uints  []uint32
}

// NewDeepSlice returns a full-resolution slice of the given type.
func NewDeepSlice(t PixelType) *DeepSlice {
	return &DeepSlice{Type: t, XSampling: 1, YSampling: 1}
}

func (s *DeepSlice) sampling() (int, int) {
	x, y := s.XSampling, s.YSampling
	if x == 0 {
		x = 1
	}
	if y == 0 {
		y = 1
	}
	return x, y
}

func (s *DeepSlice) alloc(n int) {
	s.floats, s.halves, s.uints = nil, nil, nil
	switch s.Type {
	case PixelTypeFloat:
		s.floats = make([]float32, n)
	case PixelTypeHalf:
		s.halves = make([]half.Half, n)
	case PixelTypeUint:
		s.uints = make([]uint32, n)
	}
}

// Float32s returns the float arena, or nil for other types.
func (s *DeepSlice) Float32s() []float32 { return s.floats }

// Halves returns the half arena, or nil for other types.
func (s *DeepSlice) Halves() []half.Half { return s.halves }

// Uints returns the uint arena, or nil for other types.
func (s *DeepSlice) Uints() []uint32 { return s.uints }

// value returns arena element i as a float64.
func (s *DeepSlice) value(i int) float64 {
	switch s.Type {
	case PixelTypeFloat:
		return float64(s.floats[i])
	case PixelTypeHalf:
		return s.halves[i].Float64()
	default:
		return float64(s.uints[i])
	}
}

// setValue stores v at arena element i, converting to the slice type.
func (s *DeepSlice) setValue(i int, v float64) {
	switch s.Type {
	case PixelTypeFloat:
		s.floats[i] = float32(v)
	case PixelTypeHalf:
		s.halves[i] = half.FromFloat64(v)
	default:
		s.uints[i] = floatToUint(v)
	}
}

// floatToUint clamps v into the uint32 range. NaN and negatives map to 0.
func floatToUint(v float64) uint32 {
	switch {
	case v != v || v <= 0:
		return 0
	case v >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}

// uintToHalf maps values beyond the half range to infinity.
func uintToHalf(u uint32) half.Half {
	if u > 65504 {
		return half.Inf
	}
	return half.FromFloat32(float32(u))
}

// store decodes n samples of file type from src into the arena at.
func (s *DeepSlice) store(at int, src []byte, from PixelType, n int) {
	le := binary.LittleEndian
	if from == s.Type {
		switch s.Type {
		case PixelTypeFloat:
			dst := s.floats[at : at+n]
			for i := range dst {
				dst[i] = math.Float32frombits(le.Uint32(src[4*i:]))
			}
		case PixelTypeHalf:
			dst := s.halves[at : at+n]
			for i := range dst {
				dst[i] = half.FromBits(le.Uint16(src[2*i:]))
			}
		case PixelTypeUint:
			dst := s.uints[at : at+n]
			for i := range dst {
				dst[i] = le.Uint32(src[4*i:])
			}
		}
		return
	}

	for i := 0; i < n; i++ {
		switch from {
		case PixelTypeFloat:
			s.setValue(at+i, float64(math.Float32frombits(le.Uint32(src[4*i:]))))
		case PixelTypeHalf:
			s.setValue(at+i, half.FromBits(le.Uint16(src[2*i:])).Float64())
		case PixelTypeUint:
			u := le.Uint32(src[4*i:])
			if s.Type == PixelTypeHalf {
				s.halves[at+i] = uintToHalf(u)
			} else {
				s.setValue(at+i, float64(u))
			}
		}
	}
}

// load encodes n arena samples starting at at into dst as type to.
func (s *DeepSlice) load(dst []byte, at int, to PixelType, n int) {
	le := binary.LittleEndian
	for i := 0; i < n; i++ {
		switch to {
		case PixelTypeFloat:
			var v float32
			if s.Type == PixelTypeFloat {
				v = s.floats[at+i]
			} else {
				v = float32(s.value(at + i))
			}
			le.PutUint32(dst[4*i:], math.Float32bits(v))
		case PixelTypeHalf:
			var h half.Half
			switch s.Type {
			case PixelTypeHalf:
				h = s.halves[at+i]
			case PixelTypeUint:
				h = uintToHalf(s.uints[at+i])
			default:
				h = half.FromFloat32(s.floats[at+i])
			}
			le.PutUint16(dst[2*i:], h.Bits())
		case PixelTypeUint:
			var u uint32
			if s.Type == PixelTypeUint {
				u = s.uints[at+i]
			} else {
				u = floatToUint(s.value(at + i))
			}
			le.PutUint32(dst[4*i:], u)
		}
	}
}

func (s *DeepSlice) fill(at, n int) {
	for i := at; i < at+n; i++ {
		s.setValue(i, s.FillValue)
	}
}

// DeepFrameBuffer is the caller-side destination of deep reads and source
// of deep writes. It covers a window of pixels, which is usually the data
// window of the part.
//
// Use is two-phase: sample counts are filled first (by
// ReadPixelSampleCounts or SetSampleCount), then Allocate sizes every
// slice's arena from them, and then samples are read or written.
type DeepFrameBuffer struct {
	window Box2i
	width  int

	counts []uint32
	// starts[i] is the arena offset of pixel i; starts[len(counts)] is the
	// total. Nil until Allocate.
	starts []int

	names  []string
	slices map[string]*DeepSlice
}

// NewDeepFrameBuffer returns a frame buffer covering window.
func NewDeepFrameBuffer(window Box2i) *DeepFrameBuffer {
	n := 0
	if !window.IsEmpty() {
		n = int(window.Area())
	}
	return &DeepFrameBuffer{
		window: window,
		width:  int(window.Width()),
		counts: make([]uint32, n),
		slices: make(map[string]*DeepSlice),
	}
}

// Window returns the pixel region covered.
func (fb *DeepFrameBuffer) Window() Box2i {
	return fb.window
}

// Insert adds or replaces a channel. If the frame buffer is already
// allocated the slice is sized immediately.
func (fb *DeepFrameBuffer) Insert(name string, s *DeepSlice) error {
	if name == "" || s == nil || s.Type.Size() == 0 {
		return fmt.Errorf("exr: invalid deep slice for channel %q", name)
	}
	if _, ok := fb.slices[name]; !ok {
		i := sort.SearchStrings(fb.names, name)
		fb.names = append(fb.names, "")
		copy(fb.names[i+1:], fb.names[i:])
		fb.names[i] = name
	}
	fb.slices[name] = s
	if fb.starts != nil {
		s.alloc(fb.starts[len(fb.counts)])
	}
	return nil
}

// Slice returns the named slice, or nil.
func (fb *DeepFrameBuffer) Slice(name string) *DeepSlice {
	return fb.slices[name]
}

// Names returns the channel names in sorted order.
func (fb *DeepFrameBuffer) Names() []string {
	return fb.names
}

func (fb *DeepFrameBuffer) index(x, y int) (int, bool) {
	if !fb.window.Contains(int32(x), int32(y)) {
		return 0, false
	}
	return (y-int(fb.window.Min.Y))*fb.width + x - int(fb.window.Min.X), true
}

// SampleCount returns the sample count of a pixel, 0 outside the window.
func (fb *DeepFrameBuffer) SampleCount(x, y int) uint32 {
	if i, ok := fb.index(x, y); ok {
		return fb.counts[i]
	}
	return 0
}

// SetSampleCount sets the sample count of a pixel. Pixels outside the
// window are ignored. Changing a count after Allocate requires another
// Allocate before samples are read or written.
func (fb *DeepFrameBuffer) SetSampleCount(x, y int, n uint32) {
	if i, ok := fb.index(x, y); ok {
		fb.counts[i] = n
	}
}

// SampleCounts returns the counts of all pixels in row-major order.
func (fb *DeepFrameBuffer) SampleCounts() []uint32 {
	return fb.counts
}

// TotalSamples returns the sum of all sample counts.
func (fb *DeepFrameBuffer) TotalSamples() uint64 {
	var n uint64
	for _, c := range fb.counts {
		n += uint64(c)
	}
	return n
}

// MaxSamplesPerPixel returns the largest sample count.
func (fb *DeepFrameBuffer) MaxSamplesPerPixel() uint32 {
	var m uint32
	for _, c := range fb.counts {
		if c > m {
			m = c
		}
	}
	return m
}

// Allocate sizes every slice from the current sample counts. Existing
// sample data is discarded.
func (fb *DeepFrameBuffer) Allocate() error {
	total := fb.TotalSamples()
	if total > math.MaxInt32*4 || total > uint64(math.MaxInt)/8 {
		return fmt.Errorf("exr: %d deep samples exceed the addressable arena", total)
	}
	starts := make([]int, len(fb.counts)+1)
	off := 0
	for i, c := range fb.counts {
		starts[i] = off
		off += int(c)
	}
	starts[len(fb.counts)] = off
	fb.starts = starts
	for _, s := range fb.slices {
		s.alloc(off)
	}
	return nil
}

// IsAllocated reports whether Allocate has been called.
func (fb *DeepFrameBuffer) IsAllocated() bool {
	return fb.starts != nil
}

// span returns the arena range of pixel i as sized by the last Allocate.
func (fb *DeepFrameBuffer) span(i int) (start, n int) {
	return fb.starts[i], fb.starts[i+1] - fb.starts[i]
}

// PixelRange returns the arena start and sample count of a pixel. ok is
// false outside the window or before Allocate.
func (fb *DeepFrameBuffer) PixelRange(x, y int) (start, n int, ok bool) {
	i, in := fb.index(x, y)
	if !in || fb.starts == nil {
		return 0, 0, false
	}
	start, n = fb.span(i)
	return start, n, true
}

// Float32 returns the samples of a float channel at a pixel.
func (fb *DeepFrameBuffer) Float32(name string, x, y int) []float32 {
	s := fb.slices[name]
	start, n, ok := fb.PixelRange(x, y)
	if s == nil || !ok || s.floats == nil {
		return nil
	}
	return s.floats[start : start+n]
}

// Half returns the samples of a half channel at a pixel.
func (fb *DeepFrameBuffer) Half(name string, x, y int) []half.Half {
	s := fb.slices[name]
	start, n, ok := fb.PixelRange(x, y)
	if s == nil || !ok || s.halves == nil {
		return nil
	}
	return s.halves[start : start+n]
}

// Uint returns the samples of a uint channel at a pixel.
func (fb *DeepFrameBuffer) Uint(name string, x, y int) []uint32 {
	s := fb.slices[name]
	start, n, ok := fb.PixelRange(x, y)
	if s == nil || !ok || s.uints == nil {
		return nil
	}
	return s.uints[start : start+n]
}

// Value returns sample i of a pixel as a float64 whatever the slice type.
func (fb *DeepFrameBuffer) Value(name string, x, y, i int) (float64, bool) {
	s := fb.slices[name]
	start, n, ok := fb.PixelRange(x, y)
	if s == nil || !ok || i < 0 || i >= n {
		return 0, false
	}
	return s.value(start + i), true
}

// SetFloat32Samples replaces the whole arena of a channel. data holds the
// samples of every pixel in window order, converted to the slice type.
func (fb *DeepFrameBuffer) SetFloat32Samples(name string, data []float32) error {
	s := fb.slices[name]
	if s == nil {
		return fmt.Errorf("exr: no deep slice for channel %q", name)
	}
	if fb.starts == nil {
		return ErrNotAllocated
	}
	if total := fb.starts[len(fb.counts)]; len(data) != total {
		return fmt.Errorf("%w: channel %q has %d samples, frame buffer holds %d", ErrDeepSampleCountMismatch, name, len(data), total)
	}
	switch s.Type {
	case PixelTypeFloat:
		copy(s.floats, data)
	default:
		for i, v := range data {
			s.setValue(i, float64(v))
		}
	}
	return nil
}
