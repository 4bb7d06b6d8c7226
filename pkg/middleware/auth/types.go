package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Subject is the normalized result of verifying an external credential.
type Subject struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Identity is the resolved caller for one request. Guest distinguishes a
// synthesized identity from a verified one so downstream code cannot treat
// an unauthenticated caller as verified.
type Identity struct {
	Subject string `json:"subject"`
	Email   string `json:"email"`
	Guest   bool   `json:"guest"`
}

// guestEmail is the placeholder address carried by synthesized identities.
const guestEmail = "guest@chat-edge.local"

// NewGuest synthesizes a fresh request-scoped guest identity. Two calls never
// return the same subject id.
func NewGuest() Identity {
	return Identity{Subject: "guest-" + uuid.NewString(), Email: guestEmail, Guest: true}
}

// Verified builds the identity for a verified subject.
func Verified(s Subject) Identity {
	return Identity{Subject: s.UID, Email: s.Email}
}

// ErrUnauthenticated is the single error surfaced for any verification
// failure; provider-specific detail never reaches the caller.
var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier validates an external bearer credential. Implementations wrap the
// identity provider; the relay treats every failure uniformly.
type Verifier interface {
	Verify(ctx context.Context, bearer string) (Subject, error)
}

type contextKey struct{ name string }

var identityCtxKey = &contextKey{"identity"}

// WithIdentity stores the resolved identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

// IdentityFrom returns the request identity, if one was resolved.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey).(Identity)
	return id, ok
}

// IsVerified reports whether the context carries a non-guest identity.
func IsVerified(ctx context.Context) bool {
	id, ok := IdentityFrom(ctx)
	return ok && !id.Guest && id.Subject != ""
}
