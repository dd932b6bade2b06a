package compression

// Split writes the even-indexed bytes of src to the first half of dst and
// the odd-indexed bytes to the second half. The first half gets the extra
// byte when len(src) is odd.
//
//	[A0 A1 B0 B1 C0 C1] -> [A0 B0 C0 A1 B1 C1]
func Split(dst, src []byte) {
	half := (len(src) + 1) / 2
	lo, hi := dst[:half], dst[half:len(src)]
	for i := 0; i < len(hi); i++ {
		lo[i] = src[2*i]
		hi[i] = src[2*i+1]
	}
	if len(lo) > len(hi) {
		lo[len(lo)-1] = src[len(src)-1]
	}
}

// Merge reverses Split.
func Merge(dst, src []byte) {
	half := (len(src) + 1) / 2
	lo, hi := src[:half], src[half:]
	for i := 0; i < len(hi); i++ {
		dst[2*i] = lo[i]
		dst[2*i+1] = hi[i]
	}
	if len(lo) > len(hi) {
		dst[len(src)-1] = lo[len(lo)-1]
	}
}
