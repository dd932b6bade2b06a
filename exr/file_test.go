package exr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// zipPattern writes a 6x37 ZIP file: three chunks of 16, 16 and 5 lines.
func zipPattern(t *testing.T) ([]byte, *File) {
	t.Helper()
	mf := writePattern(t, patternHeader(6, 37, CompressionZIP), 37)
	return mf.buf, mf.open(t)
}

func openBytes(b []byte) (*File, error) {
	return Open(bytes.NewReader(b), int64(len(b)))
}

func TestOpenErrors(t *testing.T) {
	buf, f := zipPattern(t)
	tablesEnd := int(f.tablesEnd)

	modified := func(fn func(b []byte)) []byte {
		b := bytes.Clone(buf)
		fn(b)
		return b
	}
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidMagic},
		{"short", buf[:5], ErrInvalidMagic},
		{"bad magic", modified(func(b []byte) { b[0] ^= 0xff }), ErrInvalidMagic},
		{"version 3", modified(func(b []byte) { b[4] = 3 }), ErrInvalidVersion},
		{"unknown flag", modified(func(b []byte) { b[6] |= 0x40 }), ErrInvalidVersion},
		{"truncated header", buf[:11], ErrInvalidHeader},
		{"truncated offset table", buf[:tablesEnd-1], ErrInvalidHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := openBytes(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Open() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOffsetReconstruction(t *testing.T) {
	buf, f := zipPattern(t)
	want := f.Offsets(0)
	table := int(f.tablesEnd) - 8*len(want)

	tests := []struct {
		name  string
		patch func(b []byte)
	}{
		{"zeroed entry", func(b []byte) { binary.LittleEndian.PutUint64(b[table+8:], 0) }},
		{"past end", func(b []byte) { binary.LittleEndian.PutUint64(b[table+16:], 1<<50) }},
		{"inside tables", func(b []byte) { binary.LittleEndian.PutUint64(b[table:], uint64(table)) }},
		{"all zero", func(b []byte) { clear(b[table : table+8*len(want)]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytes.Clone(buf)
			tt.patch(b)
			g, err := openBytes(b)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !g.IsComplete(0) {
				t.Error("IsComplete() = false after reconstruction")
			}
			for i, off := range g.Offsets(0) {
				if off != want[i] {
					t.Errorf("offset[%d] = %d, want %d", i, off, want[i])
				}
			}
			in, err := OpenDeepScanline(g, 0)
			if err != nil {
				t.Fatal(err)
			}
			checkPattern(t, readAll(t, in), in.DataWindow())
		})
	}
}

func TestTruncatedFileIsIncomplete(t *testing.T) {
	buf, f := zipPattern(t)
	last := f.Offsets(0)[2]

	g, err := openBytes(buf[:last])
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if g.IsComplete(0) {
		t.Error("IsComplete() = true for truncated file")
	}
	if off := g.Offsets(0)[2]; off != 0 {
		t.Errorf("offset[2] = %d, want 0", off)
	}
	if _, err := g.ScanlineChunk(0, 36); !errors.Is(err, ErrIncompleteFile) {
		t.Errorf("ScanlineChunk(36) error = %v, want ErrIncompleteFile", err)
	}
	if _, err := g.ScanlineChunk(0, 20); err != nil {
		t.Errorf("ScanlineChunk(20) error = %v", err)
	}

	// Rows before the cut still decode.
	in, err := OpenDeepScanline(g, 0)
	if err != nil {
		t.Fatal(err)
	}
	if in.IsComplete() {
		t.Error("DeepScanlineInputFile.IsComplete() = true for truncated file")
	}
	fb := NewDeepFrameBuffer(in.DataWindow())
	for _, name := range patternNames {
		fb.Insert(name, NewDeepSlice(PixelTypeFloat))
	}
	if err := in.SetFrameBuffer(fb); err != nil {
		t.Fatal(err)
	}
	if err := in.ReadPixelSampleCounts(32, 36); !errors.Is(err, ErrIncompleteFile) {
		t.Errorf("ReadPixelSampleCounts(32, 36) error = %v, want ErrIncompleteFile", err)
	}
	if err := in.ReadPixelSampleCounts(0, 31); err != nil {
		t.Fatalf("ReadPixelSampleCounts(0, 31) error = %v", err)
	}
	if err := fb.Allocate(); err != nil {
		t.Fatal(err)
	}
	if err := in.ReadPixels(0, 31); err != nil {
		t.Fatalf("ReadPixels(0, 31) error = %v", err)
	}
	checkPattern(t, fb, Box2i{Max: V2i{5, 31}})
	if err := in.ReadPixels(32, 36); !errors.Is(err, ErrSampleCountsNotRead) {
		t.Errorf("ReadPixels(32, 36) error = %v, want ErrSampleCountsNotRead", err)
	}
}

func TestScanlineChunk(t *testing.T) {
	_, f := zipPattern(t)
	offsets := f.Offsets(0)

	tests := []struct {
		y                  int
		index, first, rows int
	}{
		{0, 0, 0, 16},
		{15, 0, 0, 16},
		{20, 1, 16, 16},
		{36, 2, 32, 5},
	}
	for _, tt := range tests {
		ci, err := f.ScanlineChunk(0, tt.y)
		if err != nil {
			t.Fatalf("ScanlineChunk(%d) error = %v", tt.y, err)
		}
		if ci.Index != tt.index || ci.Y != tt.first || ci.Height != tt.rows || ci.X != 0 || ci.Width != 6 {
			t.Errorf("ScanlineChunk(%d) = index %d box %v, want index %d rows %d..%d",
				tt.y, ci.Index, ci.Box(), tt.index, tt.first, tt.first+tt.rows-1)
		}
		if ci.Offset != int64(offsets[tt.index]) || ci.DataOffset != ci.Offset+rawScanlineHeaderSize {
			t.Errorf("ScanlineChunk(%d) offsets = %d/%d, want %d/%d",
				tt.y, ci.Offset, ci.DataOffset, offsets[tt.index], int64(offsets[tt.index])+rawScanlineHeaderSize)
		}
		if ci.Tiled || ci.Part != 0 {
			t.Errorf("ScanlineChunk(%d) tiled=%v part=%d", tt.y, ci.Tiled, ci.Part)
		}
	}

	for _, y := range []int{-1, 37} {
		if _, err := f.ScanlineChunk(0, y); !errors.Is(err, ErrScanlineOutOfRange) {
			t.Errorf("ScanlineChunk(%d) error = %v, want ErrScanlineOutOfRange", y, err)
		}
	}
	if _, err := f.ScanlineChunk(1, 0); !errors.Is(err, ErrPartOutOfRange) {
		t.Errorf("ScanlineChunk(part 1) error = %v, want ErrPartOutOfRange", err)
	}
	if _, err := f.TileChunk(0, 0, 0, 0, 0); !errors.Is(err, ErrWrongStorage) {
		t.Errorf("TileChunk() on scanline part error = %v, want ErrWrongStorage", err)
	}
}

func TestCorruptChunkHeaders(t *testing.T) {
	buf, f := zipPattern(t)
	chunk := int(f.Offsets(0)[1])

	tests := []struct {
		name  string
		patch func(b []byte)
	}{
		{"wrong y", func(b []byte) { binary.LittleEndian.PutUint32(b[chunk:], 17) }},
		{"huge packed size", func(b []byte) { binary.LittleEndian.PutUint64(b[chunk+12:], 1<<40) }},
		{"huge table size", func(b []byte) { binary.LittleEndian.PutUint64(b[chunk+4:], 1<<31) }},
		{"packed size over 2 GiB", func(b []byte) { binary.LittleEndian.PutUint64(b[chunk+12:], 1<<31) }},
		{"unpacked size over 2 GiB", func(b []byte) { binary.LittleEndian.PutUint64(b[chunk+20:], 1<<31) }},
		{"past end of file", func(b []byte) { binary.LittleEndian.PutUint64(b[chunk+12:], uint64(len(b))) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytes.Clone(buf)
			tt.patch(b)
			g, err := openBytes(b)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if _, err := g.ScanlineChunk(0, 16); !errors.Is(err, ErrCorruptChunk) {
				t.Errorf("ScanlineChunk() error = %v, want ErrCorruptChunk", err)
			}
			if _, err := g.ScanlineChunk(0, 0); err != nil {
				t.Errorf("ScanlineChunk(0) error = %v, untouched chunk should read", err)
			}

			// The caller's frame buffer is left alone.
			in, err := OpenDeepScanline(g, 0)
			if err != nil {
				t.Fatal(err)
			}
			fb := NewDeepFrameBuffer(in.DataWindow())
			for _, name := range patternNames {
				fb.Insert(name, NewDeepSlice(PixelTypeFloat))
			}
			for y := 16; y < 32; y++ {
				for x := 0; x < 6; x++ {
					fb.SetSampleCount(x, y, 9)
				}
			}
			if err := in.SetFrameBuffer(fb); err != nil {
				t.Fatal(err)
			}
			if err := in.ReadPixelSampleCounts(16, 31); !errors.Is(err, ErrCorruptChunk) {
				t.Errorf("ReadPixelSampleCounts() error = %v, want ErrCorruptChunk", err)
			}
			changed := 0
			for y := 16; y < 32; y++ {
				for x := 0; x < 6; x++ {
					if fb.SampleCount(x, y) != 9 {
						changed++
					}
				}
			}
			if changed != 0 {
				t.Errorf("%d sample counts changed by a rejected chunk", changed)
			}
		})
	}
}

func TestFlatPartIsNotDeep(t *testing.T) {
	h := patternHeader(4, 4, CompressionNone)
	h.SetType(PartTypeScanline)

	w := xdr.NewBufferWriter(0)
	w.WriteInt32(MagicNumber)
	w.WriteInt32(versionNumber)
	if err := WriteHeader(w, h); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < h.ChunksInFile(); i++ {
		w.WriteUint64(0)
	}

	f, err := openBytes(w.Bytes())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if f.IsComplete(0) {
		t.Error("IsComplete() = true with an empty offset table")
	}
	if f.Header(0).IsDeep() {
		t.Error("IsDeep() = true for scanlineimage")
	}
	if _, err := f.ScanlineChunk(0, 0); !errors.Is(err, ErrNotDeep) {
		t.Errorf("ScanlineChunk() error = %v, want ErrNotDeep", err)
	}
	if _, err := OpenDeepScanline(f, 0); !errors.Is(err, ErrNotDeep) {
		t.Errorf("OpenDeepScanline() error = %v, want ErrNotDeep", err)
	}
}

func TestFileAccessors(t *testing.T) {
	_, f := zipPattern(t)
	if f.NumParts() != 1 || f.IsMultiPart() {
		t.Errorf("NumParts() = %d, IsMultiPart() = %v", f.NumParts(), f.IsMultiPart())
	}
	if f.Header(1) != nil || f.Header(-1) != nil {
		t.Error("Header() out of range not nil")
	}
	if f.Offsets(3) != nil {
		t.Error("Offsets() out of range not nil")
	}
	if f.IsComplete(1) {
		t.Error("IsComplete(1) = true")
	}
	if f.Name() != "" {
		t.Errorf("Name() = %q, want empty", f.Name())
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
