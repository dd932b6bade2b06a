package exr

import (
	"fmt"
	"io"
	"os"

	"github.com/mrjoshuak/go-openexr-deep/compression"
	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// maxShortName is the longest attribute or channel name a file without the
// long-names flag may hold.
const maxShortName = 31

// encodeWorker is the scheduler worker of deep writers.
type encodeWorker struct {
	p EncodePipeline
}

func newEncodeWorker() Worker {
	return &encodeWorker{}
}

func (w *encodeWorker) Release() {
	w.p.Destroy()
}

func (w *encodeWorker) prepare(h *Header, level compression.Level, ci ChunkInfo, fb *DeepFrameBuffer) error {
	if w.p.State() == StateUninitialized {
		if err := w.p.Initialize(h, level, ci); err != nil {
			return err
		}
		return w.p.ChooseRoutines(fb)
	}
	return w.p.Update(ci)
}

// versionField returns the version and flags of a single-part deep file.
func versionField(h *Header) uint32 {
	v := uint32(versionNumber | flagNonImage)
	if hasLongNames(h) {
		v |= flagLongNames
	}
	return v
}

func hasLongNames(h *Header) bool {
	for _, a := range h.Attributes() {
		if len(a.Name) > maxShortName || len(a.Type) > maxShortName {
			return true
		}
	}
	if cl := h.Channels(); cl != nil {
		for _, name := range cl.Names() {
			if len(name) > maxShortName {
				return true
			}
		}
	}
	return false
}

// chunkWriter owns the output stream of a single-part deep file: the
// header, the offset table and the chunks appended after it.
type chunkWriter struct {
	name   string
	w      io.WriteSeeker
	closer io.Closer
	header *Header

	// base is the stream position of the magic number; offsets are
	// relative to it.
	base       int64
	tableStart int64
	pos        int64
	offsets    []uint64
	closed     bool
}

func newChunkWriter(w io.WriteSeeker, h *Header) (*chunkWriter, error) {
	h.Set(&Attribute{Name: AttrChunkCount, Type: AttrTypeInt, Value: int32(h.computedChunkCount())})
	n := h.ChunksInFile()

	base, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	buf := xdr.NewBufferWriter(1024 + 8*n)
	buf.WriteUint32(MagicNumber)
	buf.WriteUint32(versionField(h))
	if err := WriteHeader(buf, h); err != nil {
		return nil, err
	}
	tableStart := int64(buf.Len())
	buf.WriteBytes(make([]byte, 8*n))
	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	return &chunkWriter{
		w:          w,
		header:     h,
		base:       base,
		tableStart: tableStart,
		pos:        int64(buf.Len()),
		offsets:    make([]uint64, n),
	}, nil
}

// writeChunk appends a chunk and records its offset.
func (c *chunkWriter) writeChunk(idx int, data []byte) error {
	if c.offsets[idx] != 0 {
		return fmt.Errorf("%w: chunk %d written twice", ErrOutOfOrder, idx)
	}
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	c.offsets[idx] = uint64(c.pos)
	c.pos += int64(len(data))
	return nil
}

func (c *chunkWriter) written(idx int) bool {
	return c.offsets[idx] != 0
}

// close writes the offset table. Missing chunks are left at zero, which
// readers treat as absent, and reported as ErrIncompleteFile.
func (c *chunkWriter) close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	buf := xdr.NewBufferWriter(8 * len(c.offsets))
	missing := 0
	for _, off := range c.offsets {
		if off == 0 {
			missing++
		}
		buf.WriteUint64(off)
	}
	err := c.patchTable(buf.Bytes())
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err == nil && missing > 0 {
		err = fmt.Errorf("%w: %d of %d chunks not written", ErrIncompleteFile, missing, len(c.offsets))
	}
	return err
}

func (c *chunkWriter) patchTable(table []byte) error {
	if _, err := c.w.Seek(c.base+c.tableStart, io.SeekStart); err != nil {
		return err
	}
	if _, err := c.w.Write(table); err != nil {
		return err
	}
	_, err := c.w.Seek(c.base+c.pos, io.SeekStart)
	return err
}

// createFile opens path for writing and wraps it with newOutput, closing
// the file if that fails.
func createFile[T any](path string, newOutput func(io.WriteSeeker) (T, *chunkWriter, error)) (T, error) {
	f, err := os.Create(path)
	if err != nil {
		var zero T
		return zero, err
	}
	out, cw, err := newOutput(f)
	if err != nil {
		f.Close()
		os.Remove(path)
		var zero T
		return zero, err
	}
	cw.name = path
	cw.closer = f
	return out, nil
}

// compatibleForCopy reports whether raw chunks of src can be stored
// unchanged in a part with header dst.
func compatibleForCopy(dst, src *Header) error {
	if dst.DataWindow() != src.DataWindow() {
		return fmt.Errorf("%w: data windows differ", ErrHeaderMismatch)
	}
	if dst.Compression() != src.Compression() {
		return fmt.Errorf("%w: compression %s, source %s", ErrHeaderMismatch, dst.Compression(), src.Compression())
	}
	if !dst.Channels().Equal(src.Channels()) {
		return fmt.Errorf("%w: channel lists differ", ErrHeaderMismatch)
	}
	if dst.IsTiled() {
		a, _ := dst.TileDescription()
		b, _ := src.TileDescription()
		if a != b {
			return fmt.Errorf("%w: tile descriptions differ", ErrHeaderMismatch)
		}
	}
	return nil
}
