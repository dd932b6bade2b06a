package dtex

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
	"github.com/mrjoshuak/go-openexr-deep/resample"
)

// Point file layout, all little-endian:
//
//	magic        uint32
//	version      int32
//	width        int32
//	height       int32
//	channels     int32
//	worldToNDC   16 x float32
//	worldToCam   16 x float32
//	counts       width*height x int32, row-major from the top row
//	points       depth float32 then channels x float32, pixel after pixel
const (
	// Magic identifies a point file.
	Magic = 0x50545844

	pointFileVersion = 1
	fileHeaderSize   = 5*4 + 2*16*4
)

// ErrInvalidPointFile is returned for data that is not a point file.
var ErrInvalidPointFile = errors.New("dtex: not a valid point file")

// File reads a point file through an io.ReaderAt. Pixel may be called in
// any order but not concurrently.
type File struct {
	r        io.ReaderAt
	closer   io.Closer
	width    int
	height   int
	channels int
	np, nl   [16]float32

	counts []int32
	// offsets[i] is the byte offset of pixel i's points.
	offsets []int64
	scratch []byte
}

// Open opens the named point file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	pf, err := NewFile(f, st.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pf.closer = f
	return pf, nil
}

// NewFile reads the header and count table of a point file of the given
// size.
func NewFile(r io.ReaderAt, size int64) (*File, error) {
	if size < fileHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPointFile, size)
	}
	buf := make([]byte, fileHeaderSize)
	if err := xdr.ReadFull(r, buf, 0); err != nil {
		return nil, err
	}
	hr := xdr.NewReader(buf)
	magic, _ := hr.ReadUint32()
	if magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrInvalidPointFile, magic)
	}
	version, _ := hr.ReadInt32()
	if version != pointFileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidPointFile, version)
	}
	w, _ := hr.ReadInt32()
	h, _ := hr.ReadInt32()
	ch, _ := hr.ReadInt32()
	if w < 0 || h < 0 || int64(w)*int64(h) > (size-fileHeaderSize)/4 {
		return nil, fmt.Errorf("%w: %dx%d image in %d bytes", ErrInvalidPointFile, w, h, size)
	}
	if ch < 1 || ch > 4 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidPointFile, ch)
	}

	f := &File{r: r, width: int(w), height: int(h), channels: int(ch)}
	for i := range f.np {
		f.np[i], _ = hr.ReadFloat32()
	}
	for i := range f.nl {
		f.nl[i], _ = hr.ReadFloat32()
	}

	n := f.width * f.height
	table := make([]byte, 4*n)
	if err := xdr.ReadFull(r, table, fileHeaderSize); err != nil {
		return nil, fmt.Errorf("%w: count table: %v", ErrInvalidPointFile, err)
	}
	tr := xdr.NewReader(table)
	f.counts = make([]int32, n)
	f.offsets = make([]int64, n)
	off := int64(fileHeaderSize) + int64(len(table))
	stride := f.pointSize()
	for i := range f.counts {
		c, _ := tr.ReadInt32()
		f.counts[i] = c
		f.offsets[i] = off
		// Negative counts occupy no space; reading the pixel fails.
		if c > 0 {
			off += int64(c) * stride
		}
	}
	if off > size {
		return nil, fmt.Errorf("%w: points need %d bytes, file has %d", ErrInvalidPointFile, off, size)
	}
	return f, nil
}

func (f *File) pointSize() int64 {
	return int64(1+f.channels) * 4
}

func (f *File) Width() int       { return f.width }
func (f *File) Height() int      { return f.height }
func (f *File) NumChannels() int { return f.channels }

func (f *File) WorldToNDC() [16]float32    { return f.np }
func (f *File) WorldToCamera() [16]float32 { return f.nl }

// NumPoints returns the stored point count of pixel (x, y), which may be
// negative in a damaged file.
func (f *File) NumPoints(x, y int) (int, error) {
	if x < 0 || x >= f.width || y < 0 || y >= f.height {
		return 0, fmt.Errorf("%w: (%d, %d)", ErrPixelOutOfRange, x, y)
	}
	return int(f.counts[y*f.width+x]), nil
}

// Pixel implements PointSource.
func (f *File) Pixel(x, y int, dst []resample.RawPoint) ([]resample.RawPoint, error) {
	dst = dst[:0]
	n, err := f.NumPoints(x, y)
	if err != nil {
		return dst, err
	}
	if n < 0 {
		return dst, fmt.Errorf("%w: %d at pixel (%d, %d)", ErrNegativeSampleCount, n, x, y)
	}
	if n == 0 {
		return dst, nil
	}

	size := int(int64(n) * f.pointSize())
	if cap(f.scratch) < size {
		f.scratch = make([]byte, size)
	}
	buf := f.scratch[:size]
	if err := xdr.ReadFull(f.r, buf, f.offsets[y*f.width+x]); err != nil {
		return dst, fmt.Errorf("dtex: reading pixel (%d, %d): %w", x, y, err)
	}
	r := xdr.NewReader(buf)
	for i := 0; i < n; i++ {
		var pt resample.RawPoint
		pt.Depth, _ = r.ReadFloat32()
		if f.channels == 4 {
			pt.R, _ = r.ReadFloat32()
			pt.G, _ = r.ReadFloat32()
			pt.B, _ = r.ReadFloat32()
			pt.Alpha, _ = r.ReadFloat32()
		} else {
			pt.Alpha, _ = r.ReadFloat32()
			r.Skip(4 * (f.channels - 1))
		}
		dst = append(dst, pt)
	}
	return dst, nil
}

// Close closes the underlying file when the File was opened by Open.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}

// Write stores src as a point file. Three-channel sources repeat the
// alpha in all three values.
func Write(w io.Writer, src PointSource) error {
	width, height, ch := src.Width(), src.Height(), src.NumChannels()
	if ch < 1 || ch > 4 {
		return fmt.Errorf("%w: %d channels", ErrInvalidPointFile, ch)
	}

	bw := xdr.NewBufferWriter(fileHeaderSize + 4*width*height)
	bw.WriteUint32(Magic)
	bw.WriteInt32(pointFileVersion)
	bw.WriteInt32(int32(width))
	bw.WriteInt32(int32(height))
	bw.WriteInt32(int32(ch))
	np, nl := identity(), identity()
	if c, ok := src.(Camera); ok {
		np, nl = c.WorldToNDC(), c.WorldToCamera()
	}
	for _, v := range np {
		bw.WriteFloat32(v)
	}
	for _, v := range nl {
		bw.WriteFloat32(v)
	}

	var pts []resample.RawPoint
	var err error
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if pts, err = src.Pixel(x, y, pts); err != nil {
				return err
			}
			bw.WriteInt32(int32(len(pts)))
		}
	}
	if _, err := w.Write(bw.Bytes()); err != nil {
		return err
	}

	for y := 0; y < height; y++ {
		bw.Reset()
		for x := 0; x < width; x++ {
			if pts, err = src.Pixel(x, y, pts); err != nil {
				return err
			}
			for _, pt := range pts {
				bw.WriteFloat32(pt.Depth)
				if ch == 4 {
					bw.WriteFloat32(pt.R)
					bw.WriteFloat32(pt.G)
					bw.WriteFloat32(pt.B)
					bw.WriteFloat32(pt.Alpha)
					continue
				}
				for c := 0; c < ch; c++ {
					bw.WriteFloat32(pt.Alpha)
				}
			}
		}
		if _, err := w.Write(bw.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
