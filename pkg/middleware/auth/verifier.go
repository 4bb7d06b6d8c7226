// middleware/auth/verifier.go
package auth

import (
	"context"
	"crypto/rsa"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// HTTPDoer is satisfied by *http.Client and allows easy mocking in tests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// KeyVerifier validates externally issued RS256 credentials against a
// published signing key (JWKS or PEM endpoint).
type KeyVerifier struct {
	httpClient HTTPDoer
	log        *zap.Logger

	keyURL   string
	keyKID   string
	issuer   string
	audience string
	leeway   time.Duration

	// guarded by mu
	mu        sync.RWMutex
	key       *rsa.PublicKey
	etag      string
	cacheTTL  time.Duration
	lastFetch time.Time
}

// ProvideVerifier wires defaults and env config. It non-fatally attempts to
// fetch the provider key on startup and refreshes it in the background.
func ProvideVerifier(log *zap.Logger) *KeyVerifier {
	hc := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		},
		Timeout: 8 * time.Second,
	}

	leeway := 60 * time.Second
	if v := strings.TrimSpace(os.Getenv("IDENTITY_LEEWAY_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			leeway = time.Duration(n) * time.Second
		}
	}

	v := &KeyVerifier{
		httpClient: hc,
		log:        log,
		keyURL:     strings.TrimSpace(os.Getenv("IDENTITY_KEY_URL")), // JWKS/PEM endpoint
		keyKID:     strings.TrimSpace(os.Getenv("IDENTITY_KEY_KID")),
		issuer:     strings.TrimSpace(os.Getenv("IDENTITY_ISSUER")),
		audience:   strings.TrimSpace(os.Getenv("IDENTITY_AUDIENCE")),
		leeway:     leeway,
		cacheTTL:   1 * time.Hour, // default; overridable by Cache-Control
	}

	if v.keyURL != "" {
		if err := v.refreshKey(context.Background()); err != nil {
			log.Warn("identity key fetch failed at startup", zap.Error(err))
		} else {
			go v.backgroundRefresh()
		}
	}
	return v
}

// Verify parses and validates the bearer credential and returns the
// normalized subject. Any failure collapses into ErrUnauthenticated.
func (v *KeyVerifier) Verify(_ context.Context, bearer string) (Subject, error) {
	pub := v.getKey()
	if pub == nil {
		return Subject{}, ErrUnauthenticated
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)

	var claims struct {
		jwt.RegisteredClaims
		UID   string `json:"uid"`
		Email string `json:"email"`
	}

	tok, err := parser.ParseWithClaims(bearer, &claims, func(t *jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil || !tok.Valid {
		return Subject{}, ErrUnauthenticated
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return Subject{}, ErrUnauthenticated
	}
	if v.audience != "" {
		found := false
		for _, a := range claims.Audience {
			if a == v.audience {
				found = true
				break
			}
		}
		if !found {
			return Subject{}, ErrUnauthenticated
		}
	}

	uid := claims.UID
	if uid == "" {
		uid = claims.Subject
	}
	if uid == "" {
		return Subject{}, ErrUnauthenticated
	}
	return Subject{UID: uid, Email: claims.Email}, nil
}

var Module = fx.Options(
	fx.Provide(ProvideVerifier),
	fx.Provide(func(v *KeyVerifier) Verifier { return v }),
	fx.Provide(ProvideMiddleware),
)
