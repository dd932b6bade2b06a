package exr

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// memFile is an in-memory io.WriteSeeker.
type memFile struct {
	buf []byte
	pos int64
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		m.buf = append(m.buf, make([]byte, end-int64(len(m.buf)))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = m.pos + offset
	case io.SeekEnd:
		pos = int64(len(m.buf)) + offset
	}
	if pos < 0 {
		return 0, errors.New("memFile: negative position")
	}
	m.pos = pos
	return pos, nil
}

// open parses the written bytes.
func (m *memFile) open(t *testing.T) *File {
	t.Helper()
	f, err := Open(bytes.NewReader(m.buf), int64(len(m.buf)))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return f
}

// Test pattern: counts cycle through 0..3 and every sample value is
// derived from its position.
func patternCount(x, y int) uint32 { return uint32((x*7 + y*3) % 4) }
func patternZ(x, y, i int) float32 { return float32(x*100 + y*10 + i) }
func patternA(i int) float32       { return float32(i+1) * 0.25 }
func patternID(x, y int) float32   { return float32(x + 1000*y) }

var patternNames = []string{"A", "Z", "id"}

// patternHeader returns a deep scanline header with a half A, a float Z
// and a uint id channel.
func patternHeader(w, h int, c Compression) *Header {
	hdr := NewDeepScanlineHeader(w, h)
	hdr.SetCompression(c)
	cl := NewChannelList()
	cl.Add(NewChannel("A", PixelTypeHalf))
	cl.Add(NewChannel("Z", PixelTypeFloat))
	cl.Add(NewChannel("id", PixelTypeUint))
	hdr.SetChannels(cl)
	return hdr
}

// patternFrameBuffer returns an allocated float frame buffer over window
// holding the test pattern.
func patternFrameBuffer(t *testing.T, window Box2i) *DeepFrameBuffer {
	t.Helper()
	fb := NewDeepFrameBuffer(window)
	for _, name := range patternNames {
		if err := fb.Insert(name, NewDeepSlice(PixelTypeFloat)); err != nil {
			t.Fatal(err)
		}
	}
	var a, z, id []float32
	for y := int(window.Min.Y); y <= int(window.Max.Y); y++ {
		for x := int(window.Min.X); x <= int(window.Max.X); x++ {
			n := patternCount(x, y)
			fb.SetSampleCount(x, y, n)
			for i := 0; i < int(n); i++ {
				a = append(a, patternA(i))
				z = append(z, patternZ(x, y, i))
				id = append(id, patternID(x, y))
			}
		}
	}
	if err := fb.Allocate(); err != nil {
		t.Fatal(err)
	}
	for name, data := range map[string][]float32{"A": a, "Z": z, "id": id} {
		if err := fb.SetFloat32Samples(name, data); err != nil {
			t.Fatal(err)
		}
	}
	return fb
}

// writePattern writes the test pattern through a deep scanline writer,
// lines at a time.
func writePattern(t *testing.T, hdr *Header, lines int, opts ...OutputOption) *memFile {
	t.Helper()
	mf := &memFile{}
	out, err := CreateDeepScanline(mf, hdr, opts...)
	if err != nil {
		t.Fatalf("CreateDeepScanline() error = %v", err)
	}
	if err := out.SetFrameBuffer(patternFrameBuffer(t, hdr.DataWindow())); err != nil {
		t.Fatal(err)
	}
	for left := int(hdr.DataWindow().Height()); left > 0; left -= lines {
		if err := out.WritePixels(min(lines, left)); err != nil {
			t.Fatalf("WritePixels() error = %v", err)
		}
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return mf
}

// readAll reads every sample of a scanline part into float slices.
func readAll(t *testing.T, in *DeepScanlineInputFile) *DeepFrameBuffer {
	t.Helper()
	dw := in.DataWindow()
	fb := NewDeepFrameBuffer(dw)
	for _, name := range in.Header().Channels().Names() {
		fb.Insert(name, NewDeepSlice(PixelTypeFloat))
	}
	if err := in.SetFrameBuffer(fb); err != nil {
		t.Fatal(err)
	}
	if err := in.ReadPixelSampleCounts(int(dw.Min.Y), int(dw.Max.Y)); err != nil {
		t.Fatalf("ReadPixelSampleCounts() error = %v", err)
	}
	if err := fb.Allocate(); err != nil {
		t.Fatal(err)
	}
	if err := in.ReadPixels(int(dw.Min.Y), int(dw.Max.Y)); err != nil {
		t.Fatalf("ReadPixels() error = %v", err)
	}
	return fb
}

// checkPattern compares every pixel of fb inside box with the pattern.
func checkPattern(t *testing.T, fb *DeepFrameBuffer, box Box2i) {
	t.Helper()
	errs := 0
	for y := int(box.Min.Y); y <= int(box.Max.Y); y++ {
		for x := int(box.Min.X); x <= int(box.Max.X); x++ {
			n := patternCount(x, y)
			if got := fb.SampleCount(x, y); got != n {
				t.Errorf("SampleCount(%d, %d) = %d, want %d", x, y, got, n)
				errs++
			}
			a, z, id := fb.Float32("A", x, y), fb.Float32("Z", x, y), fb.Float32("id", x, y)
			if len(a) != int(n) || len(z) != int(n) || len(id) != int(n) {
				t.Errorf("pixel (%d, %d) has %d/%d/%d samples, want %d", x, y, len(a), len(z), len(id), n)
				errs++
				continue
			}
			for i := 0; i < int(n); i++ {
				if a[i] != patternA(i) || z[i] != patternZ(x, y, i) || id[i] != patternID(x, y) {
					t.Errorf("pixel (%d, %d) sample %d = (%v, %v, %v), want (%v, %v, %v)",
						x, y, i, a[i], z[i], id[i], patternA(i), patternZ(x, y, i), patternID(x, y))
					errs++
				}
			}
			if errs > 10 {
				t.Fatal("too many mismatches")
			}
		}
	}
}
