package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAssertionTTL is how long a second-factor assertion may be exchanged for a session.
const DefaultAssertionTTL = 2 * time.Minute

// ErrInvalidToken is returned when an assertion is malformed, expired, or signed by another key.
var ErrInvalidToken = errors.New("invalid token")

// AssertionClaims are the JWT claims of a second-factor assertion: the subject passed the named
// factor during the given authentication attempt.
type AssertionClaims struct {
	jwt.RegisteredClaims
	AttemptID string `json:"attempt_id"`
	Method    string `json:"amr"`
}

// AssertionProvider issues and validates second-factor assertions using RS256 or ES256.
// The caller that finalizes a session validates the assertion instead of trusting client state.
type AssertionProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

// NewAssertionProvider returns a provider signing with privateKey. A non-positive ttl uses DefaultAssertionTTL.
func NewAssertionProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, ttl time.Duration) *AssertionProvider {
	if ttl <= 0 {
		ttl = DefaultAssertionTTL
	}
	return &AssertionProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Issue signs an assertion that userID completed method for attemptID.
func (p *AssertionProvider) Issue(attemptID, userID, method string) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now()
	expiresAt = now.Add(p.ttl)
	claims := AssertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AttemptID: attemptID,
		Method:    method,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

func (p *AssertionProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

// Validate parses the assertion and checks signature, expiry, issuer, and audience.
func (p *AssertionProvider) Validate(tokenString string) (*AssertionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AssertionClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AssertionClaims)
	if !ok || !token.Valid || claims.AttemptID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
