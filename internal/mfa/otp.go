package mfa

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"unicode"
)

const (
	// DefaultCodeDigits is the width of a generated code.
	DefaultCodeDigits = 6
	// MaxCodeDigits keeps 10^digits inside int64.
	MaxCodeDigits = 9
)

// GenerateCode returns a code drawn uniformly from [10^(digits-1), 10^digits-1] using r.
// rand.Int rejects out-of-range draws, so no residue class is favoured.
func GenerateCode(r io.Reader, digits int) (string, error) {
	if digits < 1 || digits > MaxCodeDigits {
		return "", fmt.Errorf("%w: code digits must be in 1..%d, got %d", ErrInvalidConfig, MaxCodeDigits, digits)
	}
	low := pow10(digits - 1)
	high := pow10(digits) - 1
	n, err := rand.Int(r, big.NewInt(high-low+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(low+n.Int64(), 10), nil
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// NormalizeCode strips all whitespace so "123 456" is compared as "123456".
func NormalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code)
}

// CodeEqual performs constant-time comparison of a submitted code with the stored one.
func CodeEqual(provided, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(stored)) == 1
}
