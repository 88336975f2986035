package services

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	codeLength = 6
	codeSpace  = 1_000_000

	// draws at or above this value are rejected so every code is equally likely
	codeDrawLimit = math.MaxUint32 - math.MaxUint32%codeSpace
)

// GenerateCode draws a 6-digit decimal pairing code from entropy
func GenerateCode(entropy io.Reader) (string, error) {
	var buf [4]byte
	for {
		if _, err := io.ReadFull(entropy, buf[:]); err != nil {
			return "", fmt.Errorf("failed to read entropy: %w", err)
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v < codeDrawLimit {
			return fmt.Sprintf("%0*d", codeLength, v%codeSpace), nil
		}
	}
}

// IsValidCode reports whether s looks like a pairing code
func IsValidCode(s string) bool {
	if len(s) != codeLength {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
