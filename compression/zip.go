package compression

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/mrjoshuak/go-openexr-deep/internal/predictor"
)

// Level is a zlib compression level, -2 (Huffman only) to 9.
type Level int

// Standard levels
const (
	LevelHuffmanOnly Level = -2
	LevelDefault     Level = -1
	LevelBestSpeed   Level = 1
	LevelBestSize    Level = 9
)

type zlibWriter struct {
	w   *zlib.Writer
	buf bytes.Buffer
}

var zlibWriterPool = sync.Pool{
	New: func() any {
		zw := &zlibWriter{}
		zw.w, _ = zlib.NewWriterLevel(&zw.buf, zlib.DefaultCompression)
		return zw
	},
}

type zlibReader struct {
	r   io.ReadCloser
	src bytes.Reader
}

var zlibReaderPool = sync.Pool{
	New: func() any { return &zlibReader{} },
}

// ZIP is the zlib codec used by ZIPS (one scanline per chunk) and ZIP
// (sixteen scanlines per chunk).
type ZIP struct {
	// Level is the zlib level; zero selects LevelDefault.
	Level Level

	scratch []byte
	out     []byte
}

// Compress packs src. The result is valid until the next call.
func (c *ZIP) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return src, nil
	}
	c.scratch = grow(c.scratch, len(src))
	Split(c.scratch, src)
	predictor.Encode(c.scratch)

	packed, err := c.deflate(c.scratch)
	if err != nil {
		return nil, err
	}
	if len(packed) >= len(src) {
		return src, nil
	}
	return packed, nil
}

func (c *ZIP) deflate(src []byte) ([]byte, error) {
	if c.Level == LevelDefault || c.Level == 0 {
		zw := zlibWriterPool.Get().(*zlibWriter)
		defer zlibWriterPool.Put(zw)
		zw.buf.Reset()
		zw.w.Reset(&zw.buf)
		if _, err := zw.w.Write(src); err != nil {
			return nil, err
		}
		if err := zw.w.Close(); err != nil {
			return nil, err
		}
		c.out = append(c.out[:0], zw.buf.Bytes()...)
		return c.out, nil
	}

	buf := bytes.NewBuffer(c.out[:0])
	w, err := zlib.NewWriterLevel(buf, int(c.Level))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	c.out = buf.Bytes()
	return c.out, nil
}

// Uncompress unpacks src into dst.
func (c *ZIP) Uncompress(dst, src []byte) error {
	c.scratch = grow(c.scratch, len(dst))
	if err := inflate(c.scratch, src); err != nil {
		return err
	}
	predictor.Decode(c.scratch)
	Merge(dst, c.scratch)
	return nil
}

func inflate(dst, src []byte) error {
	if len(src) == 0 {
		if len(dst) != 0 {
			return ErrCorrupted
		}
		return nil
	}

	zr := zlibReaderPool.Get().(*zlibReader)
	defer zlibReaderPool.Put(zr)
	zr.src.Reset(src)

	var err error
	if zr.r == nil {
		zr.r, err = zlib.NewReader(&zr.src)
	} else {
		err = zr.r.(zlib.Resetter).Reset(&zr.src, nil)
	}
	if err != nil {
		zr.r = nil
		return ErrCorrupted
	}

	n, err := io.ReadFull(zr.r, dst)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return ErrCorrupted
	}
	if n != len(dst) {
		return ErrCorrupted
	}
	// trailing data past the expected size means the table lied
	var extra [1]byte
	if m, _ := zr.r.Read(extra[:]); m != 0 {
		return ErrOverflow
	}
	return nil
}
