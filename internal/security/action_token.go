package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidVerifier is returned when a supplied verifier could not be split back out of a public token.
var ErrInvalidVerifier = errors.New("invalid token verifier")

const (
	// DefaultSelectorLength is the length of the public lookup half of an action token.
	DefaultSelectorLength = 20
	// DefaultVerifierLength is the length of the secret half of an action token.
	DefaultVerifierLength = 20
)

// TokenComponents is one generated selector/verifier token.
// Only Selector and HashedToken may be persisted; Verifier is disclosed to the user once.
type TokenComponents struct {
	Selector    string
	Verifier    string
	HashedToken string
}

// PublicToken is the value handed to the user: selector followed by verifier, no separator.
func (c TokenComponents) PublicToken() string {
	return c.Selector + c.Verifier
}

// TokenGenerator builds selector/verifier tokens bound to a subject with HMAC-SHA256.
// It is safe for concurrent use.
type TokenGenerator struct {
	signingKey     []byte
	selectorLength int
	verifierLength int
	rand           io.Reader
}

// NewTokenGenerator returns a generator signing with signingKey. Non-positive lengths use the defaults.
func NewTokenGenerator(signingKey []byte, selectorLength, verifierLength int) (*TokenGenerator, error) {
	if len(signingKey) < MinSigningKeyBytes {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrInvalidSigningKey, MinSigningKeyBytes)
	}
	if selectorLength <= 0 {
		selectorLength = DefaultSelectorLength
	}
	if verifierLength <= 0 {
		verifierLength = DefaultVerifierLength
	}
	key := make([]byte, len(signingKey))
	copy(key, signingKey)
	return &TokenGenerator{
		signingKey:     key,
		selectorLength: selectorLength,
		verifierLength: verifierLength,
		rand:           rand.Reader,
	}, nil
}

// PublicTokenLength is the exact length of every public token this generator produces.
func (g *TokenGenerator) PublicTokenLength() int {
	return g.selectorLength + g.verifierLength
}

// CreateToken generates a fresh selector and verifier for subjectID.
func (g *TokenGenerator) CreateToken(subjectID string) (TokenComponents, error) {
	verifier, err := randomAlphaNum(g.rand, g.verifierLength)
	if err != nil {
		return TokenComponents{}, err
	}
	return g.CreateTokenWithVerifier(subjectID, verifier)
}

// CreateTokenWithVerifier generates a fresh selector around a caller-supplied verifier. The verifier
// must be exactly the configured length and drawn from [A-Za-z0-9].
func (g *TokenGenerator) CreateTokenWithVerifier(subjectID, verifier string) (TokenComponents, error) {
	if len(verifier) != g.verifierLength {
		return TokenComponents{}, fmt.Errorf("%w: want %d characters, got %d", ErrInvalidVerifier, g.verifierLength, len(verifier))
	}
	for i := 0; i < len(verifier); i++ {
		if !isAlphaNum(verifier[i]) {
			return TokenComponents{}, fmt.Errorf("%w: character %q outside [A-Za-z0-9]", ErrInvalidVerifier, verifier[i])
		}
	}
	selector, err := randomAlphaNum(g.rand, g.selectorLength)
	if err != nil {
		return TokenComponents{}, err
	}
	hashed, err := g.HashToken(verifier, subjectID)
	if err != nil {
		return TokenComponents{}, err
	}
	return TokenComponents{Selector: selector, Verifier: verifier, HashedToken: hashed}, nil
}

// HashToken returns base64(HMAC-SHA256(signingKey, JSON([verifier, subjectID]))).
func (g *TokenGenerator) HashToken(verifier, subjectID string) (string, error) {
	payload, err := json.Marshal([]string{verifier, subjectID})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, g.signingKey)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifyToken recomputes the HMAC for verifier and subjectID and compares it to hashedToken in constant time.
func (g *TokenGenerator) VerifyToken(hashedToken, verifier, subjectID string) bool {
	expected, err := g.HashToken(verifier, subjectID)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(hashedToken))
}

// SplitPublicToken splits a public token into selector and verifier by their fixed lengths.
// ok is false when the length does not match or a character is outside [A-Za-z0-9].
func (g *TokenGenerator) SplitPublicToken(token string) (selector, verifier string, ok bool) {
	if len(token) != g.PublicTokenLength() {
		return "", "", false
	}
	for i := 0; i < len(token); i++ {
		if !isAlphaNum(token[i]) {
			return "", "", false
		}
	}
	return token[:g.selectorLength], token[g.selectorLength:], true
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
