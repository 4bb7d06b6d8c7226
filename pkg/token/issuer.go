// pkg/token/issuer.go
package token

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"
)

// ErrNotConfigured is returned when the process-wide signing secret is
// missing. It is a fatal configuration error, not a caller mistake.
var ErrNotConfigured = errors.New("internal token secret not configured")

// ErrInvalidCredential covers bad signature, malformed token, and expiry.
var ErrInvalidCredential = errors.New("invalid internal credential")

// Subject is the identity a downstream credential carries.
type Subject struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

type claims struct {
	jwt.RegisteredClaims
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Issuer mints short-lived HS256 credentials for the relay -> downstream leg.
// The secret is read once at construction and never rotated mid-process.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// DefaultTTL keeps internal credentials short-lived so the relay re-validates
// the caller's external credential on every request instead of caching trust.
const DefaultTTL = 5 * time.Minute

// NewIssuer builds an Issuer from an explicit secret. An empty secret is
// allowed here; Issue and Verify fail with ErrNotConfigured at first use.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// ProvideIssuer wires the Issuer from the INTERNAL_TOKEN_SECRET environment
// variable. Absence is deliberately not fatal at startup; first use reports
// ErrNotConfigured so the failure surfaces with request context attached.
func ProvideIssuer() *Issuer {
	return NewIssuer(strings.TrimSpace(os.Getenv("INTERNAL_TOKEN_SECRET")), DefaultTTL)
}

// Issue signs a credential for sub valid for the issuer TTL.
func (i *Issuer) Issue(sub Subject) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNotConfigured
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UID:   sub.UID,
		Email: sub.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign internal credential: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the embedded subject.
// Production verification happens in the downstream service; this is used by
// tests and local debugging.
func (i *Issuer) Verify(raw string) (Subject, error) {
	if len(i.secret) == 0 {
		return Subject{}, ErrNotConfigured
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	var c claims
	tok, err := parser.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !tok.Valid {
		return Subject{}, ErrInvalidCredential
	}
	if c.UID == "" {
		return Subject{}, ErrInvalidCredential
	}
	return Subject{UID: c.UID, Email: c.Email}, nil
}

// TTL reports the fixed credential lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

var Module = fx.Options(
	fx.Provide(ProvideIssuer),
)
