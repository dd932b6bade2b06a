package exr

import (
	"errors"
	"path/filepath"
	"testing"
)

// writeDeepRGBA writes a 2x2 deep file with half RGBA and float Z holding
// the given samples, keyed by pixel.
func writeDeepRGBA(t *testing.T, path string, pixels map[[2]int][]DeepSample) {
	t.Helper()
	hdr := NewDeepScanlineHeader(2, 2)
	cl := NewChannelList()
	for _, name := range []string{"R", "G", "B", "A"} {
		cl.Add(NewChannel(name, PixelTypeHalf))
	}
	cl.Add(NewChannel("Z", PixelTypeFloat))
	hdr.SetChannels(cl)

	fb := NewDeepFrameBuffer(hdr.DataWindow())
	for _, name := range []string{"R", "G", "B", "A", "Z"} {
		fb.Insert(name, NewDeepSlice(PixelTypeFloat))
	}
	data := map[string][]float32{}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			ss := pixels[[2]int{x, y}]
			fb.SetSampleCount(x, y, uint32(len(ss)))
			for _, s := range ss {
				data["R"] = append(data["R"], s.R)
				data["G"] = append(data["G"], s.G)
				data["B"] = append(data["B"], s.B)
				data["A"] = append(data["A"], s.A)
				data["Z"] = append(data["Z"], s.Z)
			}
		}
	}
	if err := fb.Allocate(); err != nil {
		t.Fatal(err)
	}
	for name, d := range data {
		if err := fb.SetFloat32Samples(name, d); err != nil {
			t.Fatal(err)
		}
	}

	out, err := CreateDeepScanlineFile(path, hdr)
	if err != nil {
		t.Fatal(err)
	}
	if err := out.SetFrameBuffer(fb); err != nil {
		t.Fatal(err)
	}
	if err := out.WritePixels(2); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
}

func openSource(t *testing.T, path string) *DeepScanlineInputFile {
	t.Helper()
	in, err := OpenDeepScanlineFile(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { in.Close() })
	return in
}

// writeEmptyDeep writes a 2x2 deep file with the named half channels and
// no samples.
func writeEmptyDeep(t *testing.T, path string, names ...string) {
	t.Helper()
	hdr := NewDeepScanlineHeader(2, 2)
	cl := NewChannelList()
	for _, name := range names {
		cl.Add(NewChannel(name, PixelTypeHalf))
	}
	hdr.SetChannels(cl)
	out, err := CreateDeepScanlineFile(path, hdr)
	if err != nil {
		t.Fatal(err)
	}
	fb := NewDeepFrameBuffer(hdr.DataWindow())
	if err := fb.Allocate(); err != nil {
		t.Fatal(err)
	}
	if err := out.SetFrameBuffer(fb); err != nil {
		t.Fatal(err)
	}
	if err := out.WritePixels(2); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
}

func compositeSources(t *testing.T) (string, string) {
	dir := t.TempDir()
	front := filepath.Join(dir, "front.exr")
	back := filepath.Join(dir, "back.exr")
	writeDeepRGBA(t, front, map[[2]int][]DeepSample{
		{0, 0}: {{Z: 5, R: 0.5, A: 0.5}},
		{0, 1}: {{Z: 3, R: 1, A: 1}, {Z: 1, G: 0.5, A: 0.5}},
		{1, 1}: {{Z: 2, B: 0.25, A: 0.25}},
	})
	writeDeepRGBA(t, back, map[[2]int][]DeepSample{
		{0, 0}: {{Z: 1, G: 0.5, A: 0.5}},
		{1, 1}: {{Z: 4, R: 1, A: 1}},
	})
	return front, back
}

type rgba struct{ r, g, b, a float32 }

func TestCompositeDeepScanline(t *testing.T) {
	front, back := compositeSources(t)

	c := NewCompositeDeepScanline()
	if err := c.AddSource(openSource(t, front)); err != nil {
		t.Fatal(err)
	}
	if err := c.AddSource(openSource(t, back)); err != nil {
		t.Fatal(err)
	}
	if c.Sources() != 2 {
		t.Errorf("Sources() = %d, want 2", c.Sources())
	}

	img := NewFlatImage(c.DataWindow())
	if err := c.ReadPixels(img, 1, 0); err != nil {
		t.Fatalf("ReadPixels() error = %v", err)
	}
	want := map[[2]int]rgba{
		{0, 0}: {0.25, 0.5, 0, 0.75},
		{1, 0}: {0, 0, 0, 0},
		{0, 1}: {0.5, 0.5, 0, 1},
		{1, 1}: {0.75, 0, 0.25, 1},
	}
	for p, w := range want {
		r, g, b, a := img.At(p[0], p[1])
		if (rgba{r, g, b, a}) != w {
			t.Errorf("At(%d, %d) = %v, want %v", p[0], p[1], rgba{r, g, b, a}, w)
		}
	}
}

func TestCompositeSingleSourceKeepsFileOrder(t *testing.T) {
	front, _ := compositeSources(t)
	c := NewCompositeDeepScanline()
	if err := c.AddSource(openSource(t, front)); err != nil {
		t.Fatal(err)
	}
	img := NewFlatImage(c.DataWindow())
	if err := c.ReadPixels(img, 1, 1); err != nil {
		t.Fatal(err)
	}
	// The opaque sample is stored first and hides the other one.
	if r, g, b, a := img.At(0, 1); (rgba{r, g, b, a}) != (rgba{1, 0, 0, 1}) {
		t.Errorf("At(0, 1) = %v, want {1 0 0 1}", rgba{r, g, b, a})
	}
	if _, _, _, a := img.At(0, 0); a != 0 {
		t.Errorf("row 0 was composited: alpha %v", a)
	}
}

type countingCompositing struct {
	DefaultDeepCompositing
	sorted, composited int
}

func (c *countingCompositing) SortPixel(s []DeepSample) {
	c.sorted++
	c.DefaultDeepCompositing.SortPixel(s)
}

func (c *countingCompositing) CompositePixel(s []DeepSample) (r, g, b, a float32) {
	c.composited++
	return c.DefaultDeepCompositing.CompositePixel(s)
}

func TestCompositeErrors(t *testing.T) {
	front, back := compositeSources(t)
	c := NewCompositeDeepScanline()
	img := NewFlatImage(Box2i{Max: V2i{1, 1}})

	if err := c.ReadPixels(img, 0, 1); !errors.Is(err, ErrNoSources) {
		t.Errorf("ReadPixels() without sources error = %v, want ErrNoSources", err)
	}

	dir := t.TempDir()
	noZ := filepath.Join(dir, "noz.exr")
	writeEmptyDeep(t, noZ, "A", "R")
	if err := c.AddSource(openSource(t, noZ)); !errors.Is(err, ErrMissingZChannel) {
		t.Errorf("AddSource(no Z) error = %v, want ErrMissingZChannel", err)
	}
	noA := filepath.Join(dir, "noa.exr")
	writeEmptyDeep(t, noA, "Z")
	if err := c.AddSource(openSource(t, noA)); !errors.Is(err, ErrMissingAlphaChannel) {
		t.Errorf("AddSource(no A) error = %v, want ErrMissingAlphaChannel", err)
	}

	in, err := OpenDeepScanline(writePattern(t, patternHeader(2, 2, CompressionZIPS), 2).open(t), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddSource(in); err != nil {
		t.Fatalf("AddSource(pattern) error = %v", err)
	}

	wide, err := OpenDeepScanline(writePattern(t, patternHeader(3, 2, CompressionZIPS), 2).open(t), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddSource(wide); !errors.Is(err, ErrSourceMismatch) {
		t.Errorf("AddSource(other window) error = %v, want ErrSourceMismatch", err)
	}
	if err := c.AddSource(nil); err == nil {
		t.Error("AddSource(nil) succeeded")
	}

	c = NewCompositeDeepScanline()
	c.AddSource(openSource(t, front))
	c.AddSource(openSource(t, back))
	if err := c.ReadPixels(img, 0, 2); !errors.Is(err, ErrScanlineOutOfRange) {
		t.Errorf("ReadPixels(0, 2) error = %v, want ErrScanlineOutOfRange", err)
	}
	if err := c.ReadPixels(NewFlatImage(Box2i{Max: V2i{1, 0}}), 0, 1); err == nil {
		t.Error("ReadPixels() into a short image succeeded")
	}
	c.SetMaximumSampleCount(5)
	if err := c.ReadPixels(img, 0, 1); !errors.Is(err, ErrMaxSampleCountExceed) {
		t.Errorf("ReadPixels() over limit error = %v, want ErrMaxSampleCountExceed", err)
	}
	c.SetMaximumSampleCount(6)
	engine := &countingCompositing{}
	c.SetCompositing(engine)
	if err := c.ReadPixels(img, 0, 1); err != nil {
		t.Fatalf("ReadPixels() at limit error = %v", err)
	}
	if engine.sorted != 4 || engine.composited != 4 {
		t.Errorf("engine sorted %d and composited %d pixels, want 4 and 4", engine.sorted, engine.composited)
	}
	c.SetCompositing(nil)
	if _, ok := c.compositing.(DefaultDeepCompositing); !ok {
		t.Errorf("SetCompositing(nil) left %T", c.compositing)
	}
}

func TestSortPixel(t *testing.T) {
	samples := []DeepSample{
		{Z: 3, ZBack: 4, R: 1},
		{Z: 1, ZBack: 2, R: 2},
		{Z: 3, ZBack: 3, R: 3},
		{Z: 1, ZBack: 2, R: 4},
		{Z: 0.5, ZBack: 0.5, R: 5},
	}
	DefaultDeepCompositing{}.SortPixel(samples)
	var order []float32
	for _, s := range samples {
		order = append(order, s.R)
	}
	want := []float32{5, 2, 4, 3, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("sorted order = %v, want %v", order, want)
		}
	}
	if !samples[4].IsVolumetric() || samples[0].IsVolumetric() {
		t.Error("IsVolumetric() wrong")
	}
}

func TestCompositePixel(t *testing.T) {
	tests := []struct {
		name    string
		samples []DeepSample
		want    rgba
	}{
		{"empty", nil, rgba{}},
		{"over", []DeepSample{{R: 0.5, A: 0.5}, {G: 1, A: 1}}, rgba{0.5, 0.5, 0, 1}},
		{"stops when opaque", []DeepSample{{B: 1, A: 1}, {R: 1, A: 1}}, rgba{0, 0, 1, 1}},
		{"alpha clamped", []DeepSample{{R: 2, A: 1.5}}, rgba{2, 0, 0, 1}},
		{"negative alpha clamped", []DeepSample{{A: -0.5}}, rgba{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, g, b, a := DefaultDeepCompositing{}.CompositePixel(tt.samples)
			if got := (rgba{r, g, b, a}); got != tt.want {
				t.Errorf("CompositePixel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlatImageAt(t *testing.T) {
	img := NewFlatImage(Box2i{Min: V2i{-1, 2}, Max: V2i{1, 3}})
	i, ok := img.index(1, 3)
	if !ok || i != 5 {
		t.Fatalf("index(1, 3) = %d, %v, want 5, true", i, ok)
	}
	img.R[i], img.A[i] = 0.5, 1
	if r, _, _, a := img.At(1, 3); r != 0.5 || a != 1 {
		t.Errorf("At(1, 3) = %v, %v", r, a)
	}
	if r, g, b, a := img.At(2, 3); r != 0 || g != 0 || b != 0 || a != 0 {
		t.Error("At() outside the window is not zero")
	}
}
