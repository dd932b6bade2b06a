package exr

import (
	"fmt"
	"math"

	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// deepSizes are the three 64-bit sizes that follow the coordinates of a
// deep chunk header.
type deepSizes struct {
	table    uint64
	packed   uint64
	unpacked uint64
}

// readChunkSizes reads and validates the sizes of a deep chunk header.
// Each size must fit in an int32 and their sum must not overflow.
func readChunkSizes(r *xdr.Reader) (deepSizes, error) {
	var s deepSizes
	var err error
	if s.table, err = r.ReadUint64(); err != nil {
		return s, err
	}
	if s.packed, err = r.ReadUint64(); err != nil {
		return s, err
	}
	if s.unpacked, err = r.ReadUint64(); err != nil {
		return s, err
	}
	return s, s.validate()
}

func (s deepSizes) validate() error {
	const max = math.MaxInt32
	if s.table > max || s.packed > max || s.unpacked > max {
		return fmt.Errorf("%w: size out of range (table %d, packed %d, unpacked %d)", ErrCorruptChunk, s.table, s.packed, s.unpacked)
	}
	if s.table+s.packed > max {
		return fmt.Errorf("%w: table and data sizes overflow", ErrCorruptChunk)
	}
	return nil
}

// ChunkInfo locates one deep chunk and describes the pixels it covers.
type ChunkInfo struct {
	// Index is the position of the chunk in the part's offset table.
	Index int
	Part  int
	Tiled bool

	// Pixel region covered by the chunk. For tiles the coordinates are in
	// level space, offset by the data window origin.
	X, Y          int
	Width, Height int

	TileX, TileY   int
	LevelX, LevelY int

	// Offset is the file position of the chunk, part number included.
	Offset int64
	// DataOffset is the file position of the sample-count table.
	DataOffset int64

	SampleCountTableSize uint64
	PackedSize           uint64
	UnpackedSize         uint64
}

// Box returns the pixel region of the chunk.
func (c *ChunkInfo) Box() Box2i {
	return Box2i{
		Min: V2i{int32(c.X), int32(c.Y)},
		Max: V2i{int32(c.X + c.Width - 1), int32(c.Y + c.Height - 1)},
	}
}

// deepPart returns the header of a deep part, checking its storage.
func (f *File) deepPart(part int, tiled bool) (*Header, error) {
	h := f.Header(part)
	if h == nil {
		return nil, fmt.Errorf("%w: %d", ErrPartOutOfRange, part)
	}
	if !h.IsDeep() {
		return nil, ErrNotDeep
	}
	if h.IsTiled() != tiled {
		return nil, ErrWrongStorage
	}
	return h, nil
}

// checkStorage reports whether ci describes the kind of chunk h stores.
func checkStorage(h *Header, ci ChunkInfo) error {
	if ci.Tiled != h.IsTiled() {
		return fmt.Errorf("%w: chunk %d tiled=%t, part tiled=%t", ErrWrongStorage, ci.Index, ci.Tiled, h.IsTiled())
	}
	return nil
}

// scanlineChunkIndex returns the index of the chunk holding scanline y.
// The offset table is indexed in increasing y whatever the line order.
func scanlineChunkIndex(h *Header, y int) int {
	return (y - int(h.DataWindow().Min.Y)) / h.ScanlinesPerChunk()
}

// ScanlineChunk reads the header of the chunk holding scanline y.
func (f *File) ScanlineChunk(part, y int) (ChunkInfo, error) {
	h, err := f.deepPart(part, false)
	if err != nil {
		return ChunkInfo{}, err
	}
	dw := h.DataWindow()
	if y < int(dw.Min.Y) || y > int(dw.Max.Y) {
		return ChunkInfo{}, fmt.Errorf("%w: y=%d", ErrScanlineOutOfRange, y)
	}

	spc := h.ScanlinesPerChunk()
	idx := scanlineChunkIndex(h, y)
	ci := ChunkInfo{
		Index:  idx,
		Part:   part,
		X:      int(dw.Min.X),
		Y:      int(dw.Min.Y) + idx*spc,
		Width:  int(dw.Width()),
		Height: spc,
	}
	if last := int(dw.Max.Y); ci.Y+ci.Height-1 > last {
		ci.Height = last - ci.Y + 1
	}

	r, err := f.chunkHeader(h, &ci)
	if err != nil {
		return ChunkInfo{}, err
	}
	cy, err := r.ReadInt32()
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	if int(cy) != ci.Y {
		return ChunkInfo{}, fmt.Errorf("%w: chunk %d starts at y=%d, expected %d", ErrCorruptChunk, idx, cy, ci.Y)
	}
	return ci, f.finishChunkInfo(r, &ci)
}

// TileChunk reads the header of tile (tx, ty) of level (lx, ly).
func (f *File) TileChunk(part, tx, ty, lx, ly int) (ChunkInfo, error) {
	h, err := f.deepPart(part, true)
	if err != nil {
		return ChunkInfo{}, err
	}
	if !h.validLevel(lx, ly) || tx < 0 || ty < 0 || tx >= h.NumXTiles(lx) || ty >= h.NumYTiles(ly) {
		return ChunkInfo{}, fmt.Errorf("%w: tile (%d,%d) level (%d,%d)", ErrTileOutOfRange, tx, ty, lx, ly)
	}

	box := h.tileBox(tx, ty, lx, ly)
	ci := ChunkInfo{
		Index:  h.tileChunkIndex(tx, ty, lx, ly),
		Part:   part,
		Tiled:  true,
		X:      int(box.Min.X),
		Y:      int(box.Min.Y),
		Width:  int(box.Width()),
		Height: int(box.Height()),
		TileX:  tx,
		TileY:  ty,
		LevelX: lx,
		LevelY: ly,
	}

	r, err := f.chunkHeader(h, &ci)
	if err != nil {
		return ChunkInfo{}, err
	}
	var c [4]int32
	for i := range c {
		if c[i], err = r.ReadInt32(); err != nil {
			return ChunkInfo{}, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
		}
	}
	if int(c[0]) != tx || int(c[1]) != ty || int(c[2]) != lx || int(c[3]) != ly {
		return ChunkInfo{}, fmt.Errorf("%w: chunk %d holds tile (%d,%d) level (%d,%d)", ErrCorruptChunk, ci.Index, c[0], c[1], c[2], c[3])
	}
	return ci, f.finishChunkInfo(r, &ci)
}

// chunkHeader reads the fixed header of a chunk and checks its part number.
// The returned reader is positioned at the chunk coordinates.
func (f *File) chunkHeader(h *Header, ci *ChunkInfo) (*xdr.Reader, error) {
	offsets := f.offsets[ci.Part]
	if ci.Index < 0 || ci.Index >= len(offsets) {
		return nil, fmt.Errorf("%w: chunk index %d", ErrCorruptChunk, ci.Index)
	}
	off := offsets[ci.Index]
	if off == 0 {
		return nil, fmt.Errorf("%w: chunk %d of part %d", ErrIncompleteFile, ci.Index, ci.Part)
	}
	ci.Offset = int64(off)

	n := f.chunkPrefixSize(h)
	if ci.Offset+int64(n) > f.size {
		return nil, fmt.Errorf("%w: chunk %d header past end of file", ErrCorruptChunk, ci.Index)
	}
	buf := f.slice(ci.Offset, n)
	if buf == nil {
		buf = make([]byte, n)
		if err := f.readAt(buf, ci.Offset); err != nil {
			return nil, err
		}
	}
	r := xdr.NewReader(buf)
	if f.IsMultiPart() {
		p, _ := r.ReadInt32()
		if int(p) != ci.Part {
			return nil, fmt.Errorf("%w: chunk %d belongs to part %d, expected %d", ErrCorruptChunk, ci.Index, p, ci.Part)
		}
	}
	return r, nil
}

func (f *File) finishChunkInfo(r *xdr.Reader, ci *ChunkInfo) error {
	sizes, err := readChunkSizes(r)
	if err != nil {
		return err
	}
	ci.SampleCountTableSize = sizes.table
	ci.PackedSize = sizes.packed
	ci.UnpackedSize = sizes.unpacked
	ci.DataOffset = ci.Offset + int64(r.Pos())

	if ci.DataOffset+int64(sizes.table+sizes.packed) > f.size {
		return fmt.Errorf("%w: chunk %d extends past end of file", ErrCorruptChunk, ci.Index)
	}
	return nil
}
