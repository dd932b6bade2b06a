// Package compression provides the lossless chunk codecs usable with deep
// OpenEXR data: stored (none), RLE, and zlib (ZIPS/ZIP).
//
// RLE and zlib share the same preconditioning: bytes are split into
// even/odd halves and then delta-encoded with the byte predictor.
package compression

import "errors"

// Compression errors
var (
	ErrCorrupted = errors.New("compression: corrupted data")
	ErrOverflow  = errors.New("compression: decompressed size overflow")
)

// Compressor packs and unpacks one chunk payload.
//
// Compress may return src unchanged when packing would not make it smaller;
// callers detect that through len(packed) == len(src) and store it raw.
// Uncompress must fill dst exactly.
//
// A Compressor keeps scratch space between calls and is not safe for
// concurrent use.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Uncompress(dst, src []byte) error
}

// None stores data unchanged.
type None struct{}

// Compress returns src.
func (None) Compress(src []byte) ([]byte, error) {
	return src, nil
}

// Uncompress copies src into dst.
func (None) Uncompress(dst, src []byte) error {
	if len(src) != len(dst) {
		return ErrCorrupted
	}
	copy(dst, src)
	return nil
}

// grow returns buf resized to n, reallocating only when capacity is short.
func grow(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}
