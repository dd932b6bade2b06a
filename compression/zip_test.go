package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func floatRamp(n int) []byte {
	buf := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(i)*0.25))
	}
	return buf
}

func TestZIPRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		level Level
		src   []byte
	}{
		{"default ramp", 0, floatRamp(512)},
		{"best speed", LevelBestSpeed, floatRamp(300)},
		{"best size", LevelBestSize, bytes.Repeat([]byte{1, 2, 3, 4}, 200)},
		{"huffman only", LevelHuffmanOnly, bytes.Repeat([]byte{9}, 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ZIP{Level: tt.level}
			packed, err := c.Compress(tt.src)
			if err != nil {
				t.Fatalf("Compress error: %v", err)
			}
			if len(packed) >= len(tt.src) {
				t.Fatalf("Compress did not shrink %d bytes (got %d)", len(tt.src), len(packed))
			}
			packed = append([]byte(nil), packed...)

			dst := make([]byte, len(tt.src))
			if err := c.Uncompress(dst, packed); err != nil {
				t.Fatalf("Uncompress error: %v", err)
			}
			if !bytes.Equal(dst, tt.src) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestZIPUncompressSizeMismatch(t *testing.T) {
	c := &ZIP{}
	src := floatRamp(256)
	packed, err := c.Compress(src)
	if err != nil {
		t.Fatal(err)
	}
	packed = append([]byte(nil), packed...)

	if err := c.Uncompress(make([]byte, len(src)+16), packed); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Uncompress into larger buffer error = %v, want ErrCorrupted", err)
	}
	if err := c.Uncompress(make([]byte, len(src)-16), packed); !errors.Is(err, ErrOverflow) {
		t.Errorf("Uncompress into smaller buffer error = %v, want ErrOverflow", err)
	}
}

func TestZIPUncompressGarbage(t *testing.T) {
	c := &ZIP{}
	if err := c.Uncompress(make([]byte, 8), []byte{1, 2, 3, 4}); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Uncompress garbage error = %v, want ErrCorrupted", err)
	}
}

func TestNoneCompressor(t *testing.T) {
	var c None
	src := []byte{1, 2, 3}
	packed, _ := c.Compress(src)
	if !bytes.Equal(packed, src) {
		t.Errorf("None.Compress = %v, want %v", packed, src)
	}
	if err := c.Uncompress(make([]byte, 2), src); !errors.Is(err, ErrCorrupted) {
		t.Errorf("None.Uncompress size mismatch error = %v, want ErrCorrupted", err)
	}
}
