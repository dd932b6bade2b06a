package exr

import (
	"fmt"

	"github.com/mrjoshuak/go-openexr-deep/internal/log"
	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// rawTileHeaderSize is the size of the header RawTileData puts in front of
// a chunk: the tile and level coordinates and the three sizes.
const rawTileHeaderSize = 4*4 + 3*8

// tiledPart answers tile and level geometry questions for a tiled header.
type tiledPart struct {
	header *Header
	td     TileDescription
}

// Header returns the part header.
func (t tiledPart) Header() *Header {
	return t.header
}

// DataWindow returns the data window of level (0, 0).
func (t tiledPart) DataWindow() Box2i {
	return t.header.DataWindow()
}

// TileDescription returns the tile size and level layout.
func (t tiledPart) TileDescription() TileDescription {
	return t.td
}

// NumLevels returns the number of levels of a ONE_LEVEL or MIPMAP part.
// For RIPMAP parts it returns NumXLevels.
func (t tiledPart) NumLevels() int {
	return t.header.NumXLevels()
}

// NumXLevels returns the number of levels in x.
func (t tiledPart) NumXLevels() int {
	return t.header.NumXLevels()
}

// NumYLevels returns the number of levels in y.
func (t tiledPart) NumYLevels() int {
	return t.header.NumYLevels()
}

// NumXTiles returns the number of tile columns of level lx.
func (t tiledPart) NumXTiles(lx int) int {
	return t.header.NumXTiles(lx)
}

// NumYTiles returns the number of tile rows of level ly.
func (t tiledPart) NumYTiles(ly int) int {
	return t.header.NumYTiles(ly)
}

// LevelWidth returns the width of level lx.
func (t tiledPart) LevelWidth(lx int) int {
	return t.header.LevelWidth(lx)
}

// LevelHeight returns the height of level ly.
func (t tiledPart) LevelHeight(ly int) int {
	return t.header.LevelHeight(ly)
}

// IsValidTile reports whether the part stores tile (tx, ty) of level (lx, ly).
func (t tiledPart) IsValidTile(tx, ty, lx, ly int) bool {
	return t.header.validLevel(lx, ly) && tx >= 0 && ty >= 0 &&
		tx < t.header.NumXTiles(lx) && ty < t.header.NumYTiles(ly)
}

// DataWindowForLevel returns the pixel region of level (lx, ly). Levels
// share the origin of the data window.
func (t tiledPart) DataWindowForLevel(lx, ly int) (Box2i, error) {
	if !t.header.validLevel(lx, ly) {
		return Box2i{}, fmt.Errorf("%w: level (%d,%d)", ErrTileOutOfRange, lx, ly)
	}
	o := t.header.DataWindow().Min
	return Box2i{
		Min: o,
		Max: V2i{o.X + int32(t.LevelWidth(lx)) - 1, o.Y + int32(t.LevelHeight(ly)) - 1},
	}, nil
}

// DataWindowForTile returns the pixel region of a tile, clipped to its level.
func (t tiledPart) DataWindowForTile(tx, ty, lx, ly int) (Box2i, error) {
	if !t.IsValidTile(tx, ty, lx, ly) {
		return Box2i{}, fmt.Errorf("%w: tile (%d,%d) level (%d,%d)", ErrTileOutOfRange, tx, ty, lx, ly)
	}
	return t.header.tileBox(tx, ty, lx, ly), nil
}

// tileRange lists the tiles of [tx1, tx2] x [ty1, ty2] row by row, after
// checking that all of them exist.
func (t tiledPart) tileRange(tx1, tx2, ty1, ty2, lx, ly int) ([][2]int, error) {
	if tx1 > tx2 {
		tx1, tx2 = tx2, tx1
	}
	if ty1 > ty2 {
		ty1, ty2 = ty2, ty1
	}
	if !t.IsValidTile(tx1, ty1, lx, ly) || !t.IsValidTile(tx2, ty2, lx, ly) {
		return nil, fmt.Errorf("%w: tiles (%d..%d, %d..%d) level (%d,%d)", ErrTileOutOfRange, tx1, tx2, ty1, ty2, lx, ly)
	}
	tiles := make([][2]int, 0, (tx2-tx1+1)*(ty2-ty1+1))
	for ty := ty1; ty <= ty2; ty++ {
		for tx := tx1; tx <= tx2; tx++ {
			tiles = append(tiles, [2]int{tx, ty})
		}
	}
	return tiles, nil
}

// DeepTiledInputFile reads one deep tiled part.
//
// As with scanline parts, the sample counts of a tile are read into the
// frame buffer first, the frame buffer is allocated, then the samples are
// read. Tiles of every level map into frame buffer coordinates offset by
// the data window origin.
type DeepTiledInputFile struct {
	tiledPart
	file  *File
	owned bool
	part  int
	sched *Scheduler
	fb    *DeepFrameBuffer

	// countsRead is indexed by tile chunk index. Each decode task sets
	// only its own tile.
	countsRead []bool
}

// OpenDeepTiled opens a deep tiled part of f.
func OpenDeepTiled(f *File, part int, opts ...InputOption) (*DeepTiledInputFile, error) {
	if f == nil {
		return nil, ErrInvalidFile
	}
	o := defaultInputOptions()
	for _, opt := range opts {
		opt(&o)
	}
	h, err := f.deepPart(part, true)
	if err != nil {
		return nil, opError("open deep tiled", f.Name(), err)
	}
	if err := h.Validate(); err != nil {
		return nil, opError("open deep tiled", f.Name(), err)
	}
	td, _ := h.TileDescription()
	if !f.IsComplete(part) {
		log.Warningf("exr: %s part %d is missing tiles", f.displayName(), part)
	}
	return &DeepTiledInputFile{
		tiledPart:  tiledPart{header: h, td: td},
		file:       f,
		part:       part,
		sched:      schedulerOr(o.scheduler),
		countsRead: make([]bool, h.computedChunkCount()),
	}, nil
}

// OpenDeepTiledFile opens the first part of the named file.
func OpenDeepTiledFile(path string, opts ...InputOption) (*DeepTiledInputFile, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	in, err := OpenDeepTiled(f, 0, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	in.owned = true
	return in, nil
}

// Close closes the file if it was opened by OpenDeepTiledFile.
func (in *DeepTiledInputFile) Close() error {
	if in.owned {
		return in.file.Close()
	}
	return nil
}

// IsComplete reports whether every tile of the part is present.
func (in *DeepTiledInputFile) IsComplete() bool {
	return in.file.IsComplete(in.part)
}

// SetFrameBuffer sets the destination of subsequent reads. It forgets
// which tiles have had their sample counts read.
func (in *DeepTiledInputFile) SetFrameBuffer(fb *DeepFrameBuffer) error {
	if fb == nil {
		return opError("SetFrameBuffer", in.file.Name(), ErrNoFrameBuffer)
	}
	if err := checkSampling(in.header, fb); err != nil {
		return opError("SetFrameBuffer", in.file.Name(), err)
	}
	in.fb = fb
	clear(in.countsRead)
	return nil
}

// FrameBuffer returns the frame buffer set by SetFrameBuffer.
func (in *DeepTiledInputFile) FrameBuffer() *DeepFrameBuffer {
	return in.fb
}

// ReadPixelSampleCounts reads the sample counts of the tiles [tx1, tx2] x
// [ty1, ty2] of level (lx, ly) into the frame buffer.
func (in *DeepTiledInputFile) ReadPixelSampleCounts(tx1, tx2, ty1, ty2, lx, ly int) error {
	err := in.readTiles(tx1, tx2, ty1, ty2, lx, ly, true)
	return opError("ReadPixelSampleCounts", in.file.Name(), err)
}

// ReadTileSampleCounts reads the sample counts of a single tile.
func (in *DeepTiledInputFile) ReadTileSampleCounts(tx, ty, lx, ly int) error {
	return in.ReadPixelSampleCounts(tx, tx, ty, ty, lx, ly)
}

// ReadTiles reads the samples of the tiles [tx1, tx2] x [ty1, ty2] of
// level (lx, ly). Their sample counts must have been read with
// ReadPixelSampleCounts and the frame buffer allocated for them.
func (in *DeepTiledInputFile) ReadTiles(tx1, tx2, ty1, ty2, lx, ly int) error {
	err := in.readTiles(tx1, tx2, ty1, ty2, lx, ly, false)
	return opError("ReadTiles", in.file.Name(), err)
}

// ReadTile reads the samples of a single tile.
func (in *DeepTiledInputFile) ReadTile(tx, ty, lx, ly int) error {
	return in.ReadTiles(tx, tx, ty, ty, lx, ly)
}

func (in *DeepTiledInputFile) readTiles(tx1, tx2, ty1, ty2, lx, ly int, countsOnly bool) error {
	if in.fb == nil {
		return ErrNoFrameBuffer
	}
	tiles, err := in.tileRange(tx1, tx2, ty1, ty2, lx, ly)
	if err != nil {
		return err
	}
	if !countsOnly {
		for _, t := range tiles {
			if !in.countsRead[in.header.tileChunkIndex(t[0], t[1], lx, ly)] {
				return fmt.Errorf("%w: tile (%d,%d) level (%d,%d)", ErrSampleCountsNotRead, t[0], t[1], lx, ly)
			}
		}
		if !in.fb.IsAllocated() {
			return ErrNotAllocated
		}
	}
	return in.sched.Run(len(tiles), newDecodeWorker, func(w Worker, i int) error {
		ci, err := in.file.TileChunk(in.part, tiles[i][0], tiles[i][1], lx, ly)
		if err != nil {
			return err
		}
		dw := w.(*decodeWorker)
		if err := dw.prepare(in.file, ci, in.fb, countsOnly); err != nil {
			return err
		}
		if err := dw.p.Run(); err != nil {
			return err
		}
		if countsOnly {
			in.countsRead[ci.Index] = true
		}
		return nil
	})
}

// RawTileData returns a tile chunk as stored: its coordinates, the table,
// packed and unpacked sizes, then the packed table and data.
func (in *DeepTiledInputFile) RawTileData(tx, ty, lx, ly int) ([]byte, error) {
	ci, err := in.file.TileChunk(in.part, tx, ty, lx, ly)
	if err != nil {
		return nil, opError("RawTileData", in.file.Name(), err)
	}
	n := int(ci.SampleCountTableSize + ci.PackedSize)
	w := xdr.NewBufferWriter(rawTileHeaderSize + n)
	w.WriteInt32(int32(tx))
	w.WriteInt32(int32(ty))
	w.WriteInt32(int32(lx))
	w.WriteInt32(int32(ly))
	w.WriteUint64(ci.SampleCountTableSize)
	w.WriteUint64(ci.PackedSize)
	w.WriteUint64(ci.UnpackedSize)
	raw := append(w.Bytes(), make([]byte, n)...)
	if err := in.file.readAt(raw[rawTileHeaderSize:], ci.DataOffset); err != nil {
		return nil, opError("RawTileData", in.file.Name(), err)
	}
	return raw, nil
}
