package exr

import (
	"errors"
	"io"
	"os"
)

var errNegativeOffset = errors.New("exr: negative read offset")

// mmapReader serves chunk reads straight from a read-only mapping of the
// file. Slices handed out by Slice stay valid until Close.
type mmapReader struct {
	data  []byte
	file  *os.File
	unmap func() error
}

func newMmapReader(f *os.File) (*mmapReader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	m := &mmapReader{file: f}
	if fi.Size() == 0 {
		return m, nil
	}
	m.data, m.unmap, err = mapRegion(f, fi.Size())
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ReadAt copies from the mapping. Like any io.ReaderAt it reports io.EOF
// when fewer than len(p) bytes remain.
func (m *mmapReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativeOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Slice returns a view of the mapping, or nil when the range is out of
// bounds.
func (m *mmapReader) Slice(off, length int64) []byte {
	if off < 0 || length < 0 || off+length > int64(len(m.data)) {
		return nil
	}
	return m.data[off : off+length]
}

func (m *mmapReader) Size() int64 {
	return int64(len(m.data))
}

// Close unmaps the file and closes it.
func (m *mmapReader) Close() error {
	var err error
	if m.unmap != nil {
		err = m.unmap()
		m.unmap = nil
	}
	m.data = nil
	if m.file != nil {
		if cerr := m.file.Close(); err == nil {
			err = cerr
		}
		m.file = nil
	}
	return err
}
