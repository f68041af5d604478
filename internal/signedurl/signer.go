// Package signedurl turns login tokens into signed, expiring capability URLs
// and verifies them on the way back in.
package signedurl

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Query parameter names carried by every signed link.
const (
	ParamToken     = "token"
	ParamStore     = "store"
	ParamSignature = "signature"
)

var ErrInvalidSignature = errors.New("signed url: invalid signature")

type claims struct {
	Store string `json:"sto"`
	jwt.RegisteredClaims
}

// Signer issues HS256 signatures binding a token and a store name to an
// expiration instant. The token itself never appears in the signature; only
// its SHA-256 digest does.
type Signer struct {
	key []byte
	now func() time.Time
}

func NewSigner(key []byte) *Signer {
	return &Signer{key: key, now: time.Now}
}

// WithClock returns a copy of the signer that validates expiry against now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	clone := *s
	clone.now = now
	return &clone
}

func (s *Signer) Sign(token, store string, expiresAt time.Time) (string, error) {
	c := claims{
		Store: store,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   digest(token),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return signed, nil
}

// Verify checks that signature was issued for exactly this token and store
// and has not expired.
func (s *Signer) Verify(token, store, signature string) error {
	if token == "" || signature == "" {
		return ErrInvalidSignature
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(signature, &c, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidSignature
	}

	if subtle.ConstantTimeCompare([]byte(c.Subject), []byte(digest(token))) != 1 {
		return ErrInvalidSignature
	}
	if c.Store != store {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyQuery verifies the signed parameters of an incoming link and returns
// the token and store they carry.
func (s *Signer) VerifyQuery(q url.Values) (token, store string, err error) {
	token = q.Get(ParamToken)
	store = q.Get(ParamStore)
	if err := s.Verify(token, store, q.Get(ParamSignature)); err != nil {
		return "", "", err
	}
	return token, store, nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
