// Package xxh64 implements the forward half of XXH64: the reference
// hash (used by tests and by the miner's brute-force tier)
// and the partial "premine" accumulator the inversion core runs
// backwards from.
package xxh64

import (
	"encoding/binary"

	"github.com/tos-network/fastmine/internal/xmath"
)

// DefaultSeed is the fixed seed used by the DUCO-style challenges this
// module inverts.
const DefaultSeed uint64 = 2811

// Round is XXH64's per-lane stripe step: round(acc, x) = rotl(acc +
// x*P2, 31) * P1. A bijection in x (and in acc) over uint64.
func Round(acc, x uint64) uint64 {
	acc += x * xmath.P2
	acc = xmath.RotateLeft64(acc, 31)
	acc *= xmath.P1
	return acc
}

// MergeRound folds a completed lane into the running accumulator:
// acc = (acc ^ round(0, val)) * P1 + P4.
func MergeRound(acc, val uint64) uint64 {
	val = Round(0, val)
	acc ^= val
	acc = acc*xmath.P1 + xmath.P4
	return acc
}

// Avalanche is XXH64's final diffusion mix.
func Avalanche(h uint64) uint64 {
	h ^= h >> 33
	h *= xmath.P2
	h ^= h >> 29
	h *= xmath.P3
	h ^= h >> 32
	return h
}

// Premine computes the XXH64 accumulator for data after consuming every
// complete 8-byte tail word, incorporating totalLen, but before
// absorbing any bytes past the last 8-byte boundary and before the
// final avalanche. totalLen is the claimed eventual message length,
// not len(data) — the caller pre-commits to a length before the
// trailing nonce bytes are known.
func Premine(data []byte, seed, totalLen uint64) uint64 {
	if len(data) == 0 {
		return seed + xmath.P5 + totalLen
	}

	v1 := seed + xmath.P1 + xmath.P2
	v2 := seed + xmath.P2
	v3 := seed
	v4 := seed - xmath.P1

	i := 0
	for ; i+32 <= len(data); i += 32 {
		v1 = Round(v1, binary.LittleEndian.Uint64(data[i:]))
		v2 = Round(v2, binary.LittleEndian.Uint64(data[i+8:]))
		v3 = Round(v3, binary.LittleEndian.Uint64(data[i+16:]))
		v4 = Round(v4, binary.LittleEndian.Uint64(data[i+24:]))
	}

	h := xmath.RotateLeft64(v1, 1) + xmath.RotateLeft64(v2, 7) +
		xmath.RotateLeft64(v3, 12) + xmath.RotateLeft64(v4, 18)

	h = MergeRound(h, v1)
	h = MergeRound(h, v2)
	h = MergeRound(h, v3)
	h = MergeRound(h, v4)

	h += totalLen

	for ; i+8 <= len(data); i += 8 {
		x := binary.LittleEndian.Uint64(data[i:])
		h ^= Round(0, x)
		h = xmath.RotateLeft64(h, 27)*xmath.P1 + xmath.P4
	}

	// The caller guarantees the leftover tail (data[i:]) is exactly the
	// portion the inverse finalize step solves for.
	return h
}

// Finalize64Forward absorbs one complete 8-byte tail word x into
// prefinal, exactly as Premine's own tail loop does. Exposed so tests
// can check invert.Finalize64 against the forward direction.
func Finalize64Forward(prefinal, x uint64) uint64 {
	h := prefinal ^ Round(0, x)
	return xmath.RotateLeft64(h, 27)*xmath.P1 + xmath.P4
}

// Finalize32Forward absorbs one zero-extended 32-bit tail word x into
// prefinal: h = rotl(h ^ (x*P1), 23) * P2 + P3.
func Finalize32Forward(prefinal uint64, x uint32) uint64 {
	h := prefinal ^ (uint64(x) * xmath.P1)
	return xmath.RotateLeft64(h, 23)*xmath.P2 + xmath.P3
}

// AbsorbSuffix applies XXH64's per-byte tail absorption to h for each
// byte of buf, in order: h = rotl64(h ^ (b*P5), 11) * P1. buf must be
// shorter than 8 bytes (a full word is absorbed by Premine's own tail
// loop instead). This is the forward counterpart invert.Suffix
// undoes.
func AbsorbSuffix(h uint64, buf []byte) uint64 {
	for _, b := range buf {
		h ^= uint64(b) * xmath.P5
		h = xmath.RotateLeft64(h, 11) * xmath.P1
	}
	return h
}

// Sum64 is the full, reference XXH64 hash, used in tests and by the
// miner's final brute-force tier to check candidate nonces; the
// inversion tiers themselves never call it.
func Sum64(data []byte, seed uint64) uint64 {
	h := Premine(data, seed, uint64(len(data)))

	// Premine consumes every complete 8-byte word (see its own stripe
	// and tail-word loops); what remains is the final len(data)%8 bytes.
	tail := data[len(data)-len(data)%8:]

	if len(tail) >= 4 {
		x := binary.LittleEndian.Uint32(tail)
		h = Finalize32Forward(h, x)
		tail = tail[4:]
	}

	return Avalanche(AbsorbSuffix(h, tail))
}
