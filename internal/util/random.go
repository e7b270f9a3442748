package util

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
)

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomHexLong returns a random 64-bit value as 16 lowercase hex digits.
// Safe for concurrent use.
func RandomHexLong() string {
	var b [8]byte
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%016x", binary.BigEndian.Uint64(b[:]))
}

// RandomSerial returns a positive random serial number of the given byte
// length with the high bit cleared.
func RandomSerial(n int) (*big.Int, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return nil, err
	}
	b[0] &= 0x7f
	if b[0] == 0 {
		b[0] = 0x01
	}
	return new(big.Int).SetBytes(b), nil
}
