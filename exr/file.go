package exr

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mrjoshuak/go-openexr-deep/internal/log"
	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// MagicNumber starts every OpenEXR file.
const MagicNumber = 20000630

// File format version and flags
const (
	versionNumber   = 2
	versionMask     = 0xff
	flagTiled       = 0x200
	flagLongNames   = 0x400
	flagNonImage    = 0x800
	flagMultiPart   = 0x1000
	knownFlags      = flagTiled | flagLongNames | flagNonImage | flagMultiPart
	initialHeaderRd = 64 << 10
)

// ErrInvalidFile is returned for a nil file.
var ErrInvalidFile = errors.New("exr: invalid file")

// File is an open OpenEXR file. It holds the headers and offset tables of
// all parts; pixel access goes through the deep scanline and tiled readers.
//
// Reads of chunk data are serialized by the File, so readers of different
// parts may share it.
type File struct {
	name        string
	reader      io.ReaderAt
	sliceReader *mmapReader
	closer      io.Closer
	size        int64

	version  uint32
	headers  []*Header
	offsets  [][]uint64
	complete []bool

	// tablesEnd is the file position just past the offset tables.
	tablesEnd int64

	mu sync.Mutex
}

// Open reads the headers and offset tables from r, which holds size bytes.
func Open(r io.ReaderAt, size int64) (*File, error) {
	f := &File{reader: r, size: size}
	if err := f.readStructure(); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenFile opens the named file.
func OpenFile(path string) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := osf.Stat()
	if err != nil {
		osf.Close()
		return nil, err
	}
	f, err := Open(osf, fi.Size())
	if err != nil {
		osf.Close()
		return nil, opError("open", path, err)
	}
	f.name = path
	f.closer = osf
	return f, nil
}

// OpenFileMmap opens the named file through a read-only memory map. Chunk
// payloads are then read without copying.
func OpenFileMmap(path string) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := newMmapReader(osf)
	if err != nil {
		osf.Close()
		return nil, err
	}
	f, err := Open(m, m.Size())
	if err != nil {
		m.Close()
		return nil, opError("open", path, err)
	}
	f.name = path
	f.sliceReader = m
	f.closer = m
	return f, nil
}

// Close releases the underlying file, if the File opened it.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}

// Name returns the path the file was opened from, or "".
func (f *File) Name() string {
	return f.name
}

// Size returns the size of the file in bytes.
func (f *File) Size() int64 {
	return f.size
}

// Version returns the version field, flags included.
func (f *File) Version() uint32 {
	return f.version
}

// IsMultiPart reports whether chunks carry a part number.
func (f *File) IsMultiPart() bool {
	return f.version&flagMultiPart != 0
}

// NumParts returns the number of parts.
func (f *File) NumParts() int {
	return len(f.headers)
}

// Header returns the header of a part, or nil.
func (f *File) Header(part int) *Header {
	if part < 0 || part >= len(f.headers) {
		return nil
	}
	return f.headers[part]
}

// Offsets returns the offset table of a part. The slice must not be modified.
func (f *File) Offsets(part int) []uint64 {
	if part < 0 || part >= len(f.offsets) {
		return nil
	}
	return f.offsets[part]
}

// IsComplete reports whether every chunk of the part has a usable offset,
// after any reconstruction done when the file was opened.
func (f *File) IsComplete(part int) bool {
	if part < 0 || part >= len(f.complete) {
		return false
	}
	return f.complete[part]
}

// readAt fills p from the file at off. Calls are serialized.
func (f *File) readAt(p []byte, off int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return xdr.ReadFull(f.reader, p, off)
}

// slice returns a view of n bytes at off when the file is memory mapped.
func (f *File) slice(off int64, n int) []byte {
	if f.sliceReader == nil {
		return nil
	}
	return f.sliceReader.Slice(off, int64(n))
}

func (f *File) readStructure() error {
	if f.size < 8 {
		return ErrInvalidMagic
	}

	// The header block has no length prefix; parse from a window that grows
	// until the headers fit.
	window := int64(initialHeaderRd)
	for {
		if window > f.size {
			window = f.size
		}
		buf := make([]byte, window)
		if err := f.readAt(buf, 0); err != nil {
			return err
		}
		end, err := f.parseHeaders(buf)
		if err == nil {
			return f.readOffsetTables(end)
		}
		if !errors.Is(err, xdr.ErrShortBuffer) {
			return err
		}
		if window == f.size {
			return fmt.Errorf("%w: truncated header", ErrInvalidHeader)
		}
		window *= 4
	}
}

// parseHeaders parses the magic number, version and headers from buf and
// returns the position just past them.
func (f *File) parseHeaders(buf []byte) (int, error) {
	r := xdr.NewReader(buf)
	magic, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	if magic != MagicNumber {
		return 0, ErrInvalidMagic
	}
	version, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	if version&versionMask != versionNumber || version&^uint32(versionMask|knownFlags) != 0 {
		return 0, fmt.Errorf("%w: 0x%x", ErrInvalidVersion, version)
	}
	f.version = version

	f.headers = f.headers[:0]
	if version&flagMultiPart == 0 {
		h, err := ReadHeader(r)
		if err != nil {
			return 0, err
		}
		if h.Type() == "" {
			if version&flagTiled != 0 {
				h.SetType(PartTypeTiled)
			} else {
				h.SetType(PartTypeScanline)
			}
		}
		f.headers = append(f.headers, h)
		return r.Pos(), nil
	}

	for {
		h, err := ReadHeader(r)
		if err != nil {
			return 0, err
		}
		if len(h.attrs) == 0 {
			break
		}
		f.headers = append(f.headers, h)
	}
	if len(f.headers) == 0 {
		return 0, fmt.Errorf("%w: multi-part file without parts", ErrInvalidHeader)
	}
	return r.Pos(), nil
}

func (f *File) readOffsetTables(start int) error {
	total := 0
	counts := make([]int, len(f.headers))
	for i, h := range f.headers {
		n := h.ChunksInFile()
		if n < 0 || int64(n) > f.size/8 {
			return fmt.Errorf("%w: part %d claims %d chunks", ErrInvalidHeader, i, n)
		}
		counts[i] = n
		total += n
	}

	f.tablesEnd = int64(start) + int64(total)*8
	if f.tablesEnd > f.size {
		return fmt.Errorf("%w: offset tables extend past end of file", ErrInvalidHeader)
	}
	buf := make([]byte, total*8)
	if err := f.readAt(buf, int64(start)); err != nil {
		return err
	}

	r := xdr.NewReader(buf)
	f.offsets = make([][]uint64, len(f.headers))
	f.complete = make([]bool, len(f.headers))
	needScan := false
	for i, n := range counts {
		table := make([]uint64, n)
		for j := range table {
			table[j], _ = r.ReadUint64()
			if !f.validOffset(table[j]) {
				table[j] = 0
				needScan = true
			}
		}
		f.offsets[i] = table
	}

	if needScan {
		f.reconstructOffsets()
	}
	for i, table := range f.offsets {
		f.complete[i] = true
		for _, off := range table {
			if off == 0 {
				f.complete[i] = false
				break
			}
		}
	}
	return nil
}

func (f *File) validOffset(off uint64) bool {
	return off >= uint64(f.tablesEnd) && off < uint64(f.size)
}

// chunkPrefixSize returns the size of the fixed chunk header for a part,
// part number included.
func (f *File) chunkPrefixSize(h *Header) int {
	n := 0
	if f.IsMultiPart() {
		n = 4
	}
	switch {
	case h.IsDeep() && h.IsTiled():
		n += 16 + 24
	case h.IsDeep():
		n += 4 + 24
	case h.IsTiled():
		n += 16 + 4
	default:
		n += 4 + 4
	}
	return n
}

// reconstructOffsets walks the chunks stored after the offset tables and
// fills in missing table entries from their headers. The walk stops at the
// first chunk that cannot be parsed; entries it did not reach stay zero.
func (f *File) reconstructOffsets() {
	pos := f.tablesEnd
	found := 0
	for pos < f.size {
		length, part, idx, ok := f.scanChunk(pos)
		if !ok {
			break
		}
		if f.offsets[part][idx] == 0 {
			f.offsets[part][idx] = uint64(pos)
			found++
		}
		pos += length
	}
	log.Warningf("exr: %s: offset table damaged, recovered %d chunk offsets by scanning", f.displayName(), found)
}

func (f *File) displayName() string {
	if f.name == "" {
		return "<stream>"
	}
	return f.name
}

// scanChunk parses the chunk header at pos and returns the chunk length,
// its part and its offset table index.
func (f *File) scanChunk(pos int64) (length int64, part, idx int, ok bool) {
	var hdr [4 + 40]byte
	n := int64(len(hdr))
	if pos+n > f.size {
		n = f.size - pos
	}
	if f.readAt(hdr[:n], pos) != nil {
		return 0, 0, 0, false
	}
	r := xdr.NewReader(hdr[:n])
	if f.IsMultiPart() {
		p, err := r.ReadInt32()
		if err != nil || p < 0 || int(p) >= len(f.headers) {
			return 0, 0, 0, false
		}
		part = int(p)
	}
	h := f.headers[part]
	prefix := int64(f.chunkPrefixSize(h))

	if h.IsTiled() {
		var c [4]int32
		for i := range c {
			v, err := r.ReadInt32()
			if err != nil {
				return 0, 0, 0, false
			}
			c[i] = v
		}
		tx, ty, lx, ly := int(c[0]), int(c[1]), int(c[2]), int(c[3])
		if !h.validLevel(lx, ly) || tx < 0 || ty < 0 || tx >= h.NumXTiles(lx) || ty >= h.NumYTiles(ly) {
			return 0, 0, 0, false
		}
		idx = h.tileChunkIndex(tx, ty, lx, ly)
	} else {
		y, err := r.ReadInt32()
		if err != nil {
			return 0, 0, 0, false
		}
		dw := h.DataWindow()
		spc := h.ScanlinesPerChunk()
		if y < dw.Min.Y || y > dw.Max.Y || (int(y-dw.Min.Y))%spc != 0 {
			return 0, 0, 0, false
		}
		idx = int(y-dw.Min.Y) / spc
	}

	var payload int64
	if h.IsDeep() {
		sizes, err := readChunkSizes(r)
		if err != nil {
			return 0, 0, 0, false
		}
		payload = int64(sizes.table + sizes.packed)
	} else {
		s, err := r.ReadInt32()
		if err != nil || s < 0 {
			return 0, 0, 0, false
		}
		payload = int64(s)
	}
	if idx < 0 || idx >= len(f.offsets[part]) || pos+prefix+payload > f.size {
		return 0, 0, 0, false
	}
	return prefix + payload, part, idx, true
}
