package xmath

import "testing"

func TestVerifyInverses(t *testing.T) {
	if err := Verify(); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestRotateLeftRightRoundtrip(t *testing.T) {
	tests := []uint64{0, 1, 0xFFFFFFFFFFFFFFFF, 0x9E3779B185EBCA87, 12345678901234}
	for _, x := range tests {
		for n := uint(0); n < 64; n++ {
			got := RotateRight64(RotateLeft64(x, n), n)
			if got != x {
				t.Errorf("RotateRight64(RotateLeft64(%#x, %d), %d) = %#x, want %#x", x, n, n, got, x)
			}
		}
	}
}

func TestRotateLeftZero(t *testing.T) {
	if RotateLeft64(0x1234, 0) != 0x1234 {
		t.Error("RotateLeft64(x, 0) should be identity")
	}
}
