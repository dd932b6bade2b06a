package exr

import (
	"errors"
	"fmt"
	"sort"
)

// Deep compositing errors
var (
	ErrNoSources            = errors.New("exr: no deep sources added")
	ErrSourceMismatch       = errors.New("exr: deep sources have mismatched data windows")
	ErrMissingZChannel      = errors.New("exr: deep source missing required Z channel")
	ErrMissingAlphaChannel  = errors.New("exr: deep source missing required A (alpha) channel")
	ErrMaxSampleCountExceed = errors.New("exr: maximum sample count exceeded")
)

// DeepSample is one sample of a pixel gathered for compositing. Colour and
// alpha are premultiplied.
type DeepSample struct {
	Z, ZBack   float32
	R, G, B, A float32
}

// IsVolumetric reports whether the sample spans a depth range.
func (s *DeepSample) IsVolumetric() bool {
	return s.ZBack > s.Z
}

// DeepCompositing sorts and flattens the samples of one pixel.
type DeepCompositing interface {
	// SortPixel orders samples front to back.
	SortPixel(samples []DeepSample)
	// CompositePixel flattens sorted samples.
	CompositePixel(samples []DeepSample) (r, g, b, a float32)
}

// DefaultDeepCompositing sorts by Z then ZBack and composites with the
// premultiplied over operator, stopping once the pixel is opaque.
type DefaultDeepCompositing struct{}

func (DefaultDeepCompositing) SortPixel(samples []DeepSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].Z != samples[j].Z {
			return samples[i].Z < samples[j].Z
		}
		return samples[i].ZBack < samples[j].ZBack
	})
}

func (DefaultDeepCompositing) CompositePixel(samples []DeepSample) (r, g, b, a float32) {
	for _, s := range samples {
		if a >= 1 {
			break
		}
		t := 1 - a
		r += t * s.R
		g += t * s.G
		b += t * s.B
		a += t * s.A
	}
	return r, g, b, min(max(a, 0), 1)
}

// FlatImage holds composited RGBA values in row-major order.
type FlatImage struct {
	Window     Box2i
	R, G, B, A []float32
}

// NewFlatImage returns a zeroed image covering window.
func NewFlatImage(window Box2i) *FlatImage {
	n := int(window.Area())
	return &FlatImage{
		Window: window,
		R:      make([]float32, n),
		G:      make([]float32, n),
		B:      make([]float32, n),
		A:      make([]float32, n),
	}
}

func (im *FlatImage) index(x, y int) (int, bool) {
	if !im.Window.Contains(int32(x), int32(y)) {
		return 0, false
	}
	return (y-int(im.Window.Min.Y))*int(im.Window.Width()) + x - int(im.Window.Min.X), true
}

// At returns the composited values of a pixel.
func (im *FlatImage) At(x, y int) (r, g, b, a float32) {
	if i, ok := im.index(x, y); ok {
		return im.R[i], im.G[i], im.B[i], im.A[i]
	}
	return 0, 0, 0, 0
}

// CompositeDeepScanline merges one or more deep scanline parts with the
// same data window into a flat image. Each ReadPixels call replaces the
// frame buffers of the sources.
type CompositeDeepScanline struct {
	sources     []*DeepScanlineInputFile
	dataWindow  Box2i
	compositing DeepCompositing
	maxSamples  int64
}

// NewCompositeDeepScanline returns a compositor using DefaultDeepCompositing.
func NewCompositeDeepScanline() *CompositeDeepScanline {
	return &CompositeDeepScanline{compositing: DefaultDeepCompositing{}}
}

// AddSource adds a part. It must have Z and A channels and the data window
// of the sources already added.
func (c *CompositeDeepScanline) AddSource(in *DeepScanlineInputFile) error {
	if in == nil {
		return errors.New("exr: nil deep source")
	}
	cl := in.Header().Channels()
	if cl.Get("Z") == nil {
		return ErrMissingZChannel
	}
	if cl.Get("A") == nil {
		return ErrMissingAlphaChannel
	}
	dw := in.DataWindow()
	if len(c.sources) > 0 && dw != c.dataWindow {
		return fmt.Errorf("%w: %+v and %+v", ErrSourceMismatch, c.dataWindow, dw)
	}
	c.dataWindow = dw
	c.sources = append(c.sources, in)
	return nil
}

// Sources returns the number of sources added.
func (c *CompositeDeepScanline) Sources() int {
	return len(c.sources)
}

// DataWindow returns the data window shared by the sources.
func (c *CompositeDeepScanline) DataWindow() Box2i {
	return c.dataWindow
}

// SetCompositing replaces the compositing engine; nil restores the default.
func (c *CompositeDeepScanline) SetCompositing(engine DeepCompositing) {
	if engine == nil {
		engine = DefaultDeepCompositing{}
	}
	c.compositing = engine
}

// SetMaximumSampleCount limits the samples one ReadPixels call may load
// across all sources. 0 or less means no limit.
func (c *CompositeDeepScanline) SetMaximumSampleCount(n int64) {
	c.maxSamples = n
}

// ReadPixels composites scanlines y1 to y2 into dst, which must cover them.
func (c *CompositeDeepScanline) ReadPixels(dst *FlatImage, y1, y2 int) error {
	if len(c.sources) == 0 {
		return ErrNoSources
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	band := Box2i{
		Min: V2i{c.dataWindow.Min.X, int32(y1)},
		Max: V2i{c.dataWindow.Max.X, int32(y2)},
	}
	if band.Intersect(c.dataWindow) != band {
		return fmt.Errorf("%w: [%d, %d]", ErrScanlineOutOfRange, y1, y2)
	}
	if dst == nil || dst.Window.Intersect(band) != band {
		return fmt.Errorf("exr: flat image does not cover scanlines [%d, %d]", y1, y2)
	}

	buffers := make([]*DeepFrameBuffer, len(c.sources))
	var total int64
	for i, in := range c.sources {
		fb := NewDeepFrameBuffer(band)
		for _, name := range []string{"Z", "ZBack", "R", "G", "B", "A"} {
			if in.Header().Channels().Get(name) != nil {
				fb.Insert(name, NewDeepSlice(PixelTypeFloat))
			}
		}
		if err := in.SetFrameBuffer(fb); err != nil {
			return err
		}
		if err := in.ReadPixelSampleCounts(y1, y2); err != nil {
			return err
		}
		total += int64(fb.TotalSamples())
		buffers[i] = fb
	}
	if c.maxSamples > 0 && total > c.maxSamples {
		return fmt.Errorf("%w: %d samples, limit %d", ErrMaxSampleCountExceed, total, c.maxSamples)
	}
	for i, in := range c.sources {
		if err := buffers[i].Allocate(); err != nil {
			return err
		}
		if err := in.ReadPixels(y1, y2); err != nil {
			return err
		}
	}

	var samples []DeepSample
	for y := y1; y <= y2; y++ {
		for x := int(band.Min.X); x <= int(band.Max.X); x++ {
			samples = gatherSamples(samples[:0], buffers, x, y)
			if len(c.sources) > 1 {
				c.compositing.SortPixel(samples)
			}
			r, g, b, a := c.compositing.CompositePixel(samples)
			i, _ := dst.index(x, y)
			dst.R[i], dst.G[i], dst.B[i], dst.A[i] = r, g, b, a
		}
	}
	return nil
}

// gatherSamples appends the samples of pixel (x, y) of every buffer.
// Colour is zero unless R, G and B are all present; a missing ZBack
// equals Z.
func gatherSamples(dst []DeepSample, buffers []*DeepFrameBuffer, x, y int) []DeepSample {
	for _, fb := range buffers {
		z := fb.Float32("Z", x, y)
		zb := fb.Float32("ZBack", x, y)
		r := fb.Float32("R", x, y)
		g := fb.Float32("G", x, y)
		b := fb.Float32("B", x, y)
		a := fb.Float32("A", x, y)
		for i := range z {
			s := DeepSample{Z: z[i], ZBack: z[i], A: a[i]}
			if zb != nil {
				s.ZBack = zb[i]
			}
			if r != nil && g != nil && b != nil {
				s.R, s.G, s.B = r[i], g[i], b[i]
			}
			dst = append(dst, s)
		}
	}
	return dst
}
