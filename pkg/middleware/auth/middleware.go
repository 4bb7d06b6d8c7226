package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware resolves the caller identity for routes that exchange
// credentials. Routes that pass the bearer through verbatim do not use it.
type Middleware struct {
	verifier Verifier
	log      *zap.Logger
}

func ProvideMiddleware(v Verifier, log *zap.Logger) *Middleware {
	return &Middleware{verifier: v, log: log}
}

// BearerFromRequest extracts the credential from an Authorization header.
// Returns "" when no Bearer credential is present.
func BearerFromRequest(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// ResolveIdentity attaches a caller Identity to the request context.
//
// A presented-but-invalid credential fails closed with 401; it never falls
// back to guest. Only a request with no Bearer credential gets a synthesized
// guest identity, fresh per request.
func (m *Middleware) ResolveIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := BearerFromRequest(r)
			if bearer == "" {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), NewGuest())))
				return
			}

			sub, err := m.verifier.Verify(r.Context(), bearer)
			if err != nil {
				m.log.Warn("external credential rejected", zap.String("path", r.URL.Path))
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Verified(sub))))
		})
	}
}

// RequireVerified guards routes that must not serve guests.
func (m *Middleware) RequireVerified() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsVerified(r.Context()) {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Authentication failed"}`))
}
