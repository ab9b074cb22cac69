// Package xmath provides the 64-bit modular arithmetic primitives that
// every other fastmine package builds on: rotation and the five XXH64
// primes together with their multiplicative inverses mod 2^64.
package xmath

import "fmt"

// XXH64's five prime multipliers, bit-exact per the reference algorithm.
const (
	P1 uint64 = 0x9E3779B185EBCA87
	P2 uint64 = 0xC2B2AE3D27D4EB4F
	P3 uint64 = 0x165667B19E3779F9
	P4 uint64 = 0x85EBCA77C2B2AE63
	P5 uint64 = 0x27D4EB2F165667C5
)

// I1..I5 are the multiplicative inverses of P1..P5 mod 2^64, i.e.
// Pk * Ik == 1 (mod 2^64). Precomputed; Verify checks the identity.
const (
	I1 uint64 = 0x887493432badb37
	I2 uint64 = 0xba79078168d4baf
	I3 uint64 = 0xe9e9f4c41d6df849
	I4 uint64 = 0xd872e78f6fe1434b
	I5 uint64 = 0xc592c09fdfba7f0d
)

func init() {
	if err := Verify(); err != nil {
		panic(err)
	}
}

// Verify checks Pk*Ik == 1 (mod 2^64) for every prime/inverse pair.
// Go's uint64 multiplication already wraps at 64 bits, so no masking
// is required here (see spec design notes on wrapping arithmetic).
func Verify() error {
	pairs := [5][2]uint64{
		{P1, I1}, {P2, I2}, {P3, I3}, {P4, I4}, {P5, I5},
	}
	for i, pair := range pairs {
		if pair[0]*pair[1] != 1 {
			return fmt.Errorf("xmath: P%d*I%d != 1 mod 2^64", i+1, i+1)
		}
	}
	return nil
}

// RotateLeft64 rotates x left by n bits, n in [0,63].
func RotateLeft64(x uint64, n uint) uint64 {
	n &= 63
	return (x << n) | (x >> (64 - n))
}

// RotateRight64 rotates x right by n bits, n in [0,63]. Equivalent to
// RotateLeft64(x, 64-n); the core always expresses a right-rotate as
// a left-rotate by the complementary amount, but this is provided for
// callers that read more naturally with a right-rotate.
func RotateRight64(x uint64, n uint) uint64 {
	n &= 63
	if n == 0 {
		return x
	}
	return RotateLeft64(x, 64-n)
}
