package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// ErrInvalidLength is returned when a random string of non-positive length is requested.
var ErrInvalidLength = errors.New("random string length must be positive")

// stripNonAlphaNum drops the three symbols URL-safe base64 can emit besides [A-Za-z0-9].
var stripNonAlphaNum = strings.NewReplacer("-", "", "_", "", "=", "")

// RandomAlphaNumString returns exactly n characters from [A-Za-z0-9] read from crypto/rand.
func RandomAlphaNumString(n int) (string, error) {
	return randomAlphaNum(rand.Reader, n)
}

// randomAlphaNum base64-encodes random bytes, strips '-', '_' and '=', and draws again for the
// remaining shortfall only. Each pass keeps on average 62/64 of its characters, so the loop ends.
func randomAlphaNum(r io.Reader, n int) (string, error) {
	if n <= 0 {
		return "", ErrInvalidLength
	}
	var b strings.Builder
	b.Grow(n)
	for b.Len() < n {
		need := n - b.Len()
		// ceil(3*need/4) bytes encode to at least need characters.
		buf := make([]byte, (3*need+3)/4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		chunk := stripNonAlphaNum.Replace(base64.URLEncoding.EncodeToString(buf))
		if len(chunk) > need {
			chunk = chunk[:need]
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
