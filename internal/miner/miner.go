// Package miner implements the attempt-tier driver that answers a
// DUCO-style XXH64 proof-of-work challenge by inverting the hash
// instead of brute-forcing the nonce space. Given a fixed prefix and a
// target hash, it walks a fixed sequence of candidate nonce shapes —
// an 8-byte full inversion, then short all-digit suffixes, then a
// 4-byte constrained inversion with a shrinking known suffix, and
// finally a short brute-force tail — stopping at the first ASCII-digit
// preimage it finds.
package miner

import (
	"strconv"

	"github.com/tos-network/fastmine/internal/invert"
	"github.com/tos-network/fastmine/internal/xxh64"
)

// Tier names attempts are tagged with, for callers (telemetry, notify)
// that care which shape solved the challenge.
const (
	TierFull8      = "full8"  // single 8-byte block-aligned inversion
	TierDigit8     = "digit8" // 8-byte inversion with a 1-digit known suffix
	TierBlock4     = "block4" // 4-byte inversion with a 1-3 digit known suffix
	TierFinal4     = "final4" // 4-byte inversion with no known suffix
	TierBruteForce = "brute"  // exhaustive search over short integer nonces
)

// Options parameterizes a single inversion attempt. The zero value is
// not meaningful; use DefaultOptions.
type Options struct {
	Seed        uint64 // hash seed; DUCO-style challenges fix this to 2811
	Suffix      []byte // known trailing bytes already appended after the solved block
	NumericOnly bool   // reject any recovered block whose bytes aren't ASCII digits
	BruteLen    int    // 4 or 8: width of the block this attempt solves by inversion
}

// DefaultOptions returns the options for the first, cheapest attempt:
// an 8-byte full inversion with no known suffix, numeric-only.
func DefaultOptions() Options {
	return Options{Seed: xxh64.DefaultSeed, NumericOnly: true, BruteLen: 8}
}

// Attempt is the outcome of a single MineInner call: which tier ran
// and, on success, the recovered nonce bytes.
type Attempt struct {
	Tier  string
	Nonce []byte
}

// MineInner runs a single inversion attempt for the given prefix and
// target hash under opts. It computes the post-avalanche, post-suffix
// accumulator from target, the pre-tail accumulator from prefix via
// xxh64.Premine, and inverts the matching 8- or 4-byte finalize step.
// Returns ok=false if the block doesn't exist (32-bit overflow) or
// (when opts.NumericOnly) its bytes aren't all ASCII digits.
func MineInner(prefix []byte, target uint64, opts Options) ([]byte, bool) {
	postfinal := invert.Avalanche(target)
	postfinal = invert.Suffix(postfinal, opts.Suffix)

	claimedLen := uint64(len(prefix) + opts.BruteLen + len(opts.Suffix))
	prefinal := xxh64.Premine(prefix, opts.Seed, claimedLen)

	var block []byte
	switch opts.BruteLen {
	case 8:
		x := invert.Finalize64(prefinal, postfinal)
		block = le64(x)
	case 4:
		x, ok := invert.Finalize32(prefinal, postfinal)
		if !ok {
			return nil, false
		}
		block = le32(x)
	default:
		panic("miner: BruteLen must be 4 or 8")
	}

	if opts.NumericOnly && !isASCIIDigits(block) {
		return nil, false
	}

	nonce := make([]byte, 0, len(block)+len(opts.Suffix))
	nonce = append(nonce, block...)
	nonce = append(nonce, opts.Suffix...)
	return nonce, true
}

// Mine answers the DUCO-style challenge: find an ASCII decimal integer
// N such that XXH64(2811, prefix||ascii(N)) == target, returning N and
// true on success. It walks the attempt tiers documented in the
// package comment, from cheapest/highest-hit-rate to the final short
// brute force, and stops at the first all-digit preimage.
func Mine(prefix []byte, target uint64) (uint64, bool) {
	result, ok := mineAttempts(prefix, target)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(string(result.Nonce), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MineAttempt is Mine, but also reports which tier solved the
// challenge (for telemetry/notify) instead of discarding it.
func MineAttempt(prefix []byte, target uint64) (Attempt, bool) {
	return mineAttempts(prefix, target)
}

func mineAttempts(prefix []byte, target uint64) (Attempt, bool) {
	// Attempt 1: empty suffix, 8-byte block.
	opts := DefaultOptions()
	if nonce, ok := MineInner(prefix, target, opts); ok {
		return Attempt{Tier: TierFull8, Nonce: nonce}, true
	}

	// Attempts 2..11: one known digit, 8-byte block.
	for d := 0; d < 10; d++ {
		opts := Options{Seed: xxh64.DefaultSeed, NumericOnly: true, BruteLen: 8, Suffix: []byte(strconv.Itoa(d))}
		if nonce, ok := MineInner(prefix, target, opts); ok {
			return Attempt{Tier: TierDigit8, Nonce: nonce}, true
		}
	}

	// Attempts 12..: 4-byte block, shrinking known digit suffix 3,2,1.
	for _, width := range []int{3, 2, 1} {
		limit := pow10(width)
		for i := 0; i < limit; i++ {
			suffix := []byte(padDigits(i, width))
			opts := Options{Seed: xxh64.DefaultSeed, NumericOnly: true, BruteLen: 4, Suffix: suffix}
			if nonce, ok := MineInner(prefix, target, opts); ok {
				return Attempt{Tier: TierBlock4, Nonce: nonce}, true
			}
		}
	}

	// Final inversion attempt: empty suffix, 4-byte block.
	opts = Options{Seed: xxh64.DefaultSeed, NumericOnly: true, BruteLen: 4}
	if nonce, ok := MineInner(prefix, target, opts); ok {
		return Attempt{Tier: TierFinal4, Nonce: nonce}, true
	}

	// Final brute force: nonces shorter than 4 bytes can't be inverted
	// (the forward hash has insufficient committed state at that
	// point), so enumerate them directly.
	for i := 0; i < 1000; i++ {
		candidate := strconv.Itoa(i)
		buf := make([]byte, 0, len(prefix)+len(candidate))
		buf = append(buf, prefix...)
		buf = append(buf, candidate...)
		if xxh64.Sum64(buf, xxh64.DefaultSeed) == target {
			return Attempt{Tier: TierBruteForce, Nonce: []byte(candidate)}, true
		}
	}

	return Attempt{}, false
}

func le64(x uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(x >> (8 * uint(i)))
	}
	return b
}

func le32(x uint32) []byte {
	b := make([]byte, 4)
	for i := 0; i < 4; i++ {
		b[i] = byte(x >> (8 * uint(i)))
	}
	return b
}

func isASCIIDigits(b []byte) bool {
	for _, c := range b {
		if c < 0x30 || c > 0x39 {
			return false
		}
	}
	return true
}

func pow10(n int) int {
	p := 1
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}

func padDigits(i, width int) string {
	s := strconv.Itoa(i)
	for len(s) < width {
		s = "0" + s
	}
	return s
}
