// Package predictor implements the byte-delta predictor that OpenEXR runs
// before RLE and zlib compression.
//
// Each byte after the first is replaced by its difference from the previous
// byte, biased by 128 so that small signed deltas land near the middle of
// the byte range.
package predictor

// Encode replaces data with biased deltas in place.
func Encode(data []byte) {
	if len(data) < 2 {
		return
	}
	prev := data[0]
	for i := 1; i < len(data); i++ {
		cur := data[i]
		data[i] = cur - prev + 128
		prev = cur
	}
}

// Decode reverses Encode in place.
func Decode(data []byte) {
	for i := 1; i < len(data); i++ {
		data[i] = data[i-1] + data[i] - 128
	}
}
