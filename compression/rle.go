package compression

import "github.com/mrjoshuak/go-openexr-deep/internal/predictor"

const (
	rleMinRun = 3
	rleMaxRun = 127
)

// RLE is the OpenEXR run-length codec.
//
// The run format uses a signed count byte:
//   - count >= 0: the next byte repeats count+1 times
//   - count < 0: the next -count bytes are literals
type RLE struct {
	scratch []byte
	out     []byte
}

// Compress packs src. The result is valid until the next call.
func (c *RLE) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return src, nil
	}
	c.scratch = grow(c.scratch, len(src))
	Split(c.scratch, src)
	predictor.Encode(c.scratch)

	c.out = rleEncode(c.out[:0], c.scratch)
	if len(c.out) >= len(src) {
		return src, nil
	}
	return c.out, nil
}

// Uncompress unpacks src into dst.
func (c *RLE) Uncompress(dst, src []byte) error {
	c.scratch = grow(c.scratch, len(dst))
	if err := rleDecode(c.scratch, src); err != nil {
		return err
	}
	predictor.Decode(c.scratch)
	Merge(dst, c.scratch)
	return nil
}

func rleEncode(dst, src []byte) []byte {
	runStart := 0
	for runStart < len(src) {
		runEnd := runStart + 1
		for runEnd < len(src) && src[runEnd] == src[runStart] && runEnd-runStart-1 < rleMaxRun {
			runEnd++
		}
		if runEnd-runStart >= rleMinRun {
			dst = append(dst, byte(runEnd-runStart-1), src[runStart])
			runStart = runEnd
			continue
		}

		// Literal span: stop where a run of rleMinRun equal bytes begins.
		for runEnd < len(src) && runEnd-runStart < rleMaxRun {
			if runEnd+2 < len(src) && src[runEnd] == src[runEnd+1] && src[runEnd+1] == src[runEnd+2] {
				break
			}
			runEnd++
		}
		dst = append(dst, byte(int8(runStart-runEnd)))
		dst = append(dst, src[runStart:runEnd]...)
		runStart = runEnd
	}
	return dst
}

func rleDecode(dst, src []byte) error {
	out := 0
	for i := 0; i < len(src); {
		count := int(int8(src[i]))
		i++
		if count < 0 {
			n := -count
			if i+n > len(src) {
				return ErrCorrupted
			}
			if out+n > len(dst) {
				return ErrOverflow
			}
			copy(dst[out:], src[i:i+n])
			out += n
			i += n
			continue
		}
		n := count + 1
		if i >= len(src) {
			return ErrCorrupted
		}
		if out+n > len(dst) {
			return ErrOverflow
		}
		v := src[i]
		i++
		for end := out + n; out < end; out++ {
			dst[out] = v
		}
	}
	if out != len(dst) {
		return ErrCorrupted
	}
	return nil
}
