package compression

import (
	"bytes"
	"errors"
	"testing"
)

// signedByte converts a signed count to a byte for test data.
func signedByte(v int8) byte {
	return byte(v)
}

func TestRLEEncodeRun(t *testing.T) {
	got := rleEncode(nil, []byte{42, 42, 42, 42, 42})
	want := []byte{4, 42}
	if !bytes.Equal(got, want) {
		t.Errorf("rleEncode run = %v, want %v", got, want)
	}
}

func TestRLEEncodeLiterals(t *testing.T) {
	got := rleEncode(nil, []byte{1, 2, 3, 4})
	want := []byte{signedByte(-4), 1, 2, 3, 4}
	if !bytes.Equal(got, want) {
		t.Errorf("rleEncode literals = %v, want %v", got, want)
	}
}

func TestRLEEncodeMixed(t *testing.T) {
	src := []byte{1, 2, 100, 100, 100, 100, 4}
	got := rleEncode(nil, src)
	want := []byte{signedByte(-2), 1, 2, 3, 100, signedByte(-1), 4}
	if !bytes.Equal(got, want) {
		t.Errorf("rleEncode mixed = %v, want %v", got, want)
	}

	dst := make([]byte, len(src))
	if err := rleDecode(dst, got); err != nil {
		t.Fatalf("rleDecode error: %v", err)
	}
	if !bytes.Equal(dst, src) {
		t.Errorf("rleDecode = %v, want %v", dst, src)
	}
}

func TestRLELongRun(t *testing.T) {
	src := bytes.Repeat([]byte{7}, 300)
	enc := rleEncode(nil, src)
	dst := make([]byte, len(src))
	if err := rleDecode(dst, enc); err != nil {
		t.Fatalf("rleDecode error: %v", err)
	}
	if !bytes.Equal(dst, src) {
		t.Error("long run did not round trip")
	}
}

func TestRLEDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
		size int
		want error
	}{
		{"truncated literal", []byte{signedByte(-3), 1, 2}, 3, ErrCorrupted},
		{"missing run value", []byte{5}, 6, ErrCorrupted},
		{"run overflow", []byte{9, 1}, 4, ErrOverflow},
		{"short output", []byte{1, 1}, 4, ErrCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rleDecode(make([]byte, tt.size), tt.src)
			if !errors.Is(err, tt.want) {
				t.Errorf("rleDecode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRLECompressorRoundTrip(t *testing.T) {
	var c RLE
	inputs := [][]byte{
		{1},
		bytes.Repeat([]byte{0, 0, 128, 63}, 64),
		[]byte("deep samples are variable length per pixel"),
	}
	for i, src := range inputs {
		packed, err := c.Compress(src)
		if err != nil {
			t.Fatalf("input %d: Compress error: %v", i, err)
		}
		packed = append([]byte(nil), packed...)
		if len(packed) == len(src) {
			// stored; nothing to unpack
			continue
		}
		dst := make([]byte, len(src))
		if err := c.Uncompress(dst, packed); err != nil {
			t.Fatalf("input %d: Uncompress error: %v", i, err)
		}
		if !bytes.Equal(dst, src) {
			t.Errorf("input %d: round trip mismatch", i)
		}
	}
}

func TestRLECompressorStoresIncompressible(t *testing.T) {
	var c RLE
	src := []byte{1, 200, 3}
	packed, err := c.Compress(src)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(packed, src) {
		t.Errorf("Compress of incompressible data = %v, want input returned", packed)
	}
}

func TestSplitMerge(t *testing.T) {
	for n := 0; n < 9; n++ {
		src := make([]byte, n)
		for i := range src {
			src[i] = byte(i + 1)
		}
		split := make([]byte, n)
		Split(split, src)
		back := make([]byte, n)
		Merge(back, split)
		if !bytes.Equal(back, src) {
			t.Errorf("n=%d: Merge(Split(x)) = %v, want %v", n, back, src)
		}
	}

	split := make([]byte, 6)
	Split(split, []byte{'a', 'A', 'b', 'B', 'c', 'C'})
	if string(split) != "abcABC" {
		t.Errorf("Split = %q, want %q", split, "abcABC")
	}
}
