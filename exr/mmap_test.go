//go:build !windows

package exr

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func mapFile(t *testing.T, data []byte) *mmapReader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	m, err := newMmapReader(f)
	if err != nil {
		f.Close()
		t.Fatalf("newMmapReader() error = %v", err)
	}
	return m
}

func TestMmapReader(t *testing.T) {
	data := []byte("deep chunk table and samples")
	m := mapFile(t, data)
	defer m.Close()

	if m.Size() != int64(len(data)) {
		t.Errorf("Size() = %d, want %d", m.Size(), len(data))
	}

	slices := []struct {
		off, n int64
		want   string
	}{
		{0, 4, "deep"},
		{5, 5, "chunk"},
		{int64(len(data)) - 7, 7, "samples"},
		{-1, 2, ""},
		{int64(len(data)) - 2, 3, ""},
	}
	for _, tt := range slices {
		got := m.Slice(tt.off, tt.n)
		if tt.want == "" {
			if got != nil {
				t.Errorf("Slice(%d, %d) = %q, want nil", tt.off, tt.n, got)
			}
			continue
		}
		if string(got) != tt.want {
			t.Errorf("Slice(%d, %d) = %q, want %q", tt.off, tt.n, got, tt.want)
		}
	}

	buf := make([]byte, 5)
	if n, err := m.ReadAt(buf, 5); n != 5 || err != nil || string(buf) != "chunk" {
		t.Errorf("ReadAt(5) = %d, %v, %q", n, err, buf)
	}
	if n, err := m.ReadAt(buf, int64(len(data))-3); n != 3 || !errors.Is(err, io.EOF) {
		t.Errorf("ReadAt(short) = %d, %v, want 3, EOF", n, err)
	}
	if _, err := m.ReadAt(buf, int64(len(data))); !errors.Is(err, io.EOF) {
		t.Errorf("ReadAt(end) error = %v, want EOF", err)
	}
	if _, err := m.ReadAt(buf, -1); err == nil {
		t.Error("ReadAt(-1) succeeded")
	}
}

func TestMmapReaderEmptyFile(t *testing.T) {
	m := mapFile(t, nil)
	if m.Size() != 0 || m.Slice(0, 1) != nil {
		t.Errorf("empty mapping: Size() = %d", m.Size())
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestOpenFileMmapReadsChunks(t *testing.T) {
	mf := writePattern(t, patternHeader(5, 20, CompressionZIP), 7)
	path := filepath.Join(t.TempDir(), "deep.exr")
	if err := os.WriteFile(path, mf.buf, 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := OpenFileMmap(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.Name() != path {
		t.Errorf("Name() = %q, want %q", f.Name(), path)
	}
	ci, err := f.ScanlineChunk(0, 19)
	if err != nil {
		t.Fatal(err)
	}
	n := int(ci.SampleCountTableSize + ci.PackedSize)
	if got := f.slice(ci.DataOffset, n); !bytes.Equal(got, mf.buf[ci.DataOffset:ci.DataOffset+int64(n)]) {
		t.Error("mapped chunk payload differs from file bytes")
	}

	in, err := OpenDeepScanline(f, 0)
	if err != nil {
		t.Fatal(err)
	}
	checkPattern(t, readAll(t, in), in.DataWindow())
}
