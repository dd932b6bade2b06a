// Package half provides IEEE 754 binary16 values as stored in HALF channels
// of deep OpenEXR parts.
//
// Layout: 1 sign bit, 5 exponent bits (bias 15), 10 mantissa bits.
package half

import (
	"encoding/binary"
	"math"
)

// Half is a binary16 value held in its raw bit pattern.
type Half uint16

const (
	signMask     = 0x8000
	exponentMask = 0x7C00
	mantissaMask = 0x03FF
)

// Well-known values.
var (
	Inf               = Half(0x7C00)
	NegInf            = Half(0xFC00)
	NaN               = Half(0x7E00)
	Zero              = Half(0x0000)
	Max               = Half(0x7BFF) // 65504
	SmallestNormal    = Half(0x0400) // ~6.1e-5
	SmallestSubnormal = Half(0x0001) // ~5.96e-8
)

// FromFloat32 converts f to the nearest Half, ties to even.
// Values beyond the half range become infinities.
func FromFloat32(f float32) Half {
	bits := math.Float32bits(f)
	sign := uint32(bits>>16) & signMask
	exp := int32(bits>>23) & 0xFF
	man := bits & 0x7FFFFF

	if exp == 0xFF {
		if man != 0 {
			return Half(sign | 0x7E00 | man>>13)
		}
		return Half(sign | exponentMask)
	}

	e := exp - 127 + 15
	switch {
	case e >= 0x1F:
		return Half(sign | exponentMask)
	case e <= 0:
		if e < -10 {
			return Half(sign)
		}
		man |= 0x800000
		shift := uint32(14 - e)
		h := man >> shift
		rem := man & (1<<shift - 1)
		halfway := uint32(1) << (shift - 1)
		if rem > halfway || (rem == halfway && h&1 != 0) {
			h++
		}
		return Half(sign | h)
	}

	h := uint32(e)<<10 | man>>13
	rem := man & 0x1FFF
	if rem > 0x1000 || (rem == 0x1000 && h&1 != 0) {
		// a carry out of the mantissa bumps the exponent, up to infinity
		h++
	}
	return Half(sign | h)
}

// FromFloat64 converts f to the nearest Half.
func FromFloat64(f float64) Half {
	return FromFloat32(float32(f))
}

// Float32 returns h widened to float32. The conversion is exact.
func (h Half) Float32() float32 {
	sign := uint32(h&signMask) << 16
	exp := uint32(h&exponentMask) >> 10
	man := uint32(h & mantissaMask)

	switch exp {
	case 0x1F:
		return math.Float32frombits(sign | 0x7F800000 | man<<13)
	case 0:
		if man == 0 {
			return math.Float32frombits(sign)
		}
		v := float32(man) / (1 << 24)
		if sign != 0 {
			v = -v
		}
		return v
	}
	return math.Float32frombits(sign | (exp+112)<<23 | man<<13)
}

// Float64 returns h widened to float64.
func (h Half) Float64() float64 {
	return float64(h.Float32())
}

// Bits returns the raw bit pattern.
func (h Half) Bits() uint16 {
	return uint16(h)
}

// FromBits builds a Half from its raw bit pattern.
func FromBits(bits uint16) Half {
	return Half(bits)
}

// IsNaN reports whether h is a NaN.
func (h Half) IsNaN() bool {
	return h&exponentMask == exponentMask && h&mantissaMask != 0
}

// IsInf reports whether h is an infinity of either sign.
func (h Half) IsInf() bool {
	return h&^signMask == exponentMask
}

// IsFinite reports whether h is neither infinite nor NaN.
func (h Half) IsFinite() bool {
	return h&exponentMask != exponentMask
}

// Decode reads little-endian halves from src into dst and returns the
// number of values converted.
func Decode(dst []float32, src []byte) int {
	n := len(src) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = Half(binary.LittleEndian.Uint16(src[2*i:])).Float32()
	}
	return n
}

// Encode writes src as little-endian halves into dst and returns the
// number of values converted.
func Encode(dst []byte, src []float32) int {
	n := len(dst) / 2
	if n > len(src) {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(FromFloat32(src[i])))
	}
	return n
}
