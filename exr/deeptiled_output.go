package exr

import (
	"fmt"
	"io"

	"github.com/mrjoshuak/go-openexr-deep/internal/log"
)

// DeepTiledOutputFile writes a single-part deep tiled file. Tiles may be
// written in any order, each exactly once; they are stored in the order
// they are written.
type DeepTiledOutputFile struct {
	tiledPart
	cw    *chunkWriter
	sched *Scheduler
	opts  outputOptions
	fb    *DeepFrameBuffer
}

// CreateDeepTiled writes the header of h to w and returns a writer for its
// tiles.
func CreateDeepTiled(w io.WriteSeeker, h *Header, opts ...OutputOption) (*DeepTiledOutputFile, error) {
	o := outputOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := h.Validate(); err != nil {
		return nil, opError("create deep tiled", "", err)
	}
	if h.Type() != PartTypeDeepTiled {
		return nil, opError("create deep tiled", "", fmt.Errorf("%w: type %q", ErrWrongStorage, h.Type()))
	}
	cw, err := newChunkWriter(w, h)
	if err != nil {
		return nil, opError("create deep tiled", "", err)
	}
	td, _ := h.TileDescription()
	return &DeepTiledOutputFile{
		tiledPart: tiledPart{header: h, td: td},
		cw:        cw,
		sched:     schedulerOr(o.scheduler),
		opts:      o,
	}, nil
}

// CreateDeepTiledFile creates the named file and writes the header to it.
func CreateDeepTiledFile(path string, h *Header, opts ...OutputOption) (*DeepTiledOutputFile, error) {
	return createFile(path, func(w io.WriteSeeker) (*DeepTiledOutputFile, *chunkWriter, error) {
		out, err := CreateDeepTiled(w, h, opts...)
		if err != nil {
			return nil, nil, err
		}
		return out, out.cw, nil
	})
}

// SetFrameBuffer sets the source of subsequent tile writes.
func (out *DeepTiledOutputFile) SetFrameBuffer(fb *DeepFrameBuffer) error {
	if fb == nil {
		return opError("SetFrameBuffer", out.cw.name, ErrNoFrameBuffer)
	}
	if err := checkSampling(out.header, fb); err != nil {
		return opError("SetFrameBuffer", out.cw.name, err)
	}
	out.fb = fb
	return nil
}

// WriteTile writes tile (tx, ty) of level (lx, ly).
func (out *DeepTiledOutputFile) WriteTile(tx, ty, lx, ly int) error {
	return out.WriteTiles(tx, tx, ty, ty, lx, ly)
}

// WriteTiles writes the tiles [tx1, tx2] x [ty1, ty2] of level (lx, ly),
// row by row. Writing a tile twice fails with ErrOutOfOrder.
func (out *DeepTiledOutputFile) WriteTiles(tx1, tx2, ty1, ty2, lx, ly int) error {
	err := out.writeTiles(tx1, tx2, ty1, ty2, lx, ly)
	return opError("WriteTiles", out.cw.name, err)
}

func (out *DeepTiledOutputFile) writeTiles(tx1, tx2, ty1, ty2, lx, ly int) error {
	if out.cw.closed {
		return ErrClosed
	}
	if out.fb == nil {
		return ErrNoFrameBuffer
	}
	if !out.fb.IsAllocated() {
		return ErrNotAllocated
	}
	tiles, err := out.tileRange(tx1, tx2, ty1, ty2, lx, ly)
	if err != nil {
		return err
	}
	for _, t := range tiles {
		if out.cw.written(out.header.tileChunkIndex(t[0], t[1], lx, ly)) {
			return fmt.Errorf("%w: tile (%d,%d) level (%d,%d) already written", ErrOutOfOrder, t[0], t[1], lx, ly)
		}
	}

	seq := newSequencer(0)
	tl := log.NewTimeLog()
	err = out.sched.Run(len(tiles), newEncodeWorker, func(w Worker, i int) error {
		tx, ty := tiles[i][0], tiles[i][1]
		box := out.header.tileBox(tx, ty, lx, ly)
		ci := ChunkInfo{
			Index:  out.header.tileChunkIndex(tx, ty, lx, ly),
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
		ew := w.(*encodeWorker)
		err := ew.prepare(out.header, out.opts.level, ci, out.fb)
		if err == nil {
			err = ew.p.Run()
		}
		return seq.do(i, func() error {
			if err != nil {
				return err
			}
			return out.cw.writeChunk(ci.Index, ew.p.Bytes())
		})
	})
	tl.Debugf("exr: encoded %d deep tiles", len(tiles))
	return err
}

// CopyPixels copies every tile of in without decoding it. It must be
// called before any tile is written, and the two parts must share data
// window, compression, channels and tile description.
func (out *DeepTiledOutputFile) CopyPixels(in *DeepTiledInputFile) error {
	err := out.copyPixels(in)
	return opError("CopyPixels", out.cw.name, err)
}

func (out *DeepTiledOutputFile) copyPixels(in *DeepTiledInputFile) error {
	if out.cw.closed {
		return ErrClosed
	}
	for idx := range out.cw.offsets {
		if out.cw.written(idx) {
			return fmt.Errorf("%w: tiles already written", ErrOutOfOrder)
		}
	}
	if err := compatibleForCopy(out.header, in.header); err != nil {
		return err
	}

	return out.eachTile(func(tx, ty, lx, ly int) error {
		raw, err := in.RawTileData(tx, ty, lx, ly)
		if err != nil {
			return err
		}
		return out.cw.writeChunk(out.header.tileChunkIndex(tx, ty, lx, ly), raw)
	})
}

// eachTile calls fn for every stored tile in offset table order.
func (out *DeepTiledOutputFile) eachTile(fn func(tx, ty, lx, ly int) error) error {
	h := out.header
	level := func(lx, ly int) error {
		for ty := 0; ty < h.NumYTiles(ly); ty++ {
			for tx := 0; tx < h.NumXTiles(lx); tx++ {
				if err := fn(tx, ty, lx, ly); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if out.td.Mode == LevelModeRipmap {
		for ly := 0; ly < h.NumYLevels(); ly++ {
			for lx := 0; lx < h.NumXLevels(); lx++ {
				if err := level(lx, ly); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for l := 0; l < h.NumXLevels(); l++ {
		if err := level(l, l); err != nil {
			return err
		}
	}
	return nil
}

// Close writes the offset table and closes the file if it was created by
// CreateDeepTiledFile. Unwritten tiles are reported as ErrIncompleteFile.
func (out *DeepTiledOutputFile) Close() error {
	return opError("Close", out.cw.name, out.cw.close())
}
