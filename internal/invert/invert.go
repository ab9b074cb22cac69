// Package invert provides the inverse of each XXH64 composition step:
// round, avalanche, 64-bit and 32-bit tail finalization, and per-byte
// suffix absorption. Every function here is the bijective inverse of
// its xxh64 package counterpart, computed using the precomputed
// multiplicative inverses in xmath.
package invert

import "github.com/tos-network/fastmine/internal/xmath"

// Round inverts xxh64.Round: given out = round(acc, x) and a known
// acc, recovers x.
func Round(acc, out uint64) uint64 {
	x := out * xmath.I1
	x = xmath.RotateLeft64(x, 33) // rotate-right 31, i.e. left by 64-31
	x -= acc
	x *= xmath.I2
	return x
}

// Avalanche inverts xxh64.Avalanche's final diffusion mix:
// h ^= h>>33; h *= P2; h ^= h>>29; h *= P3; h ^= h>>32.
func Avalanche(h uint64) uint64 {
	// h ^= h>>32 is self-inverting (shift >= 32).
	h ^= h >> 32
	h *= xmath.I3
	// h ^= h>>29 is not self-inverting; undo the 29-bit xor-shift by
	// applying the shift twice more (29 and 58 cover the full word).
	h ^= (h >> 29) ^ (h >> 58)
	h *= xmath.I2
	// h ^= h>>33 is self-inverting (shift >= 32).
	h ^= h >> 33
	return h
}

// Finalize64 inverts the 8-byte tail absorption h = rotl(h0 ^
// round(0,x), 27) * P1 + P4: given a known pre-tail accumulator
// prefinal and the post-tail accumulator postfinal, recovers x.
func Finalize64(prefinal, postfinal uint64) uint64 {
	h := postfinal - xmath.P4
	h *= xmath.I1
	h = xmath.RotateLeft64(h, 37) // rotate-right 27, i.e. left by 64-27
	return Round(0, h^prefinal)
}

// Finalize32 inverts the 4-byte tail absorption h = rotl(h0 ^
// (x*P1), 23) * P2 + P3, where x is the zero-extended 32-bit tail
// word. Returns ok=false if the recovered value doesn't fit in 32
// bits, meaning no 4-byte preimage exists.
func Finalize32(prefinal, postfinal uint64) (x uint32, ok bool) {
	h := postfinal - xmath.P3
	h *= xmath.I2
	h = xmath.RotateLeft64(h, 41) // rotate-right 23, i.e. left by 64-23
	h = (h ^ prefinal) * xmath.I1
	if h > 0xFFFFFFFF {
		return 0, false
	}
	return uint32(h), true
}

// Suffix unwinds the per-byte tail absorption h = rotl(h ^ (b*P5), 11)
// * P1 applied to each byte of buf in forward order. buf must be
// shorter than 8 bytes — inversion beyond a full word interacts with
// the 8-byte-aligned finalize step and is out of scope (see design
// notes on the suffix ≤7-byte constraint).
func Suffix(h uint64, buf []byte) uint64 {
	for i := len(buf) - 1; i >= 0; i-- {
		h *= xmath.I1
		h = xmath.RotateLeft64(h, 53) // rotate-right 11, i.e. left by 64-11
		h ^= uint64(buf[i]) * xmath.P5
	}
	return h
}
