package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	iss := NewIssuer("test-secret", DefaultTTL)

	raw, err := iss.Issue(Subject{UID: "user-123", Email: "user@example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	sub, err := iss.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-123", sub.UID)
	assert.Equal(t, "user@example.com", sub.Email)
}

func TestIssueNotConfigured(t *testing.T) {
	iss := NewIssuer("", DefaultTTL)

	_, err := iss.Issue(Subject{UID: "u", Email: "e"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVerifyExpired(t *testing.T) {
	iss := &Issuer{secret: []byte("test-secret"), ttl: -time.Minute}

	raw, err := iss.Issue(Subject{UID: "user-123", Email: "user@example.com"})
	require.NoError(t, err)

	_, err = iss.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyWrongSecret(t *testing.T) {
	a := NewIssuer("secret-a", DefaultTTL)
	b := NewIssuer("secret-b", DefaultTTL)

	raw, err := a.Issue(Subject{UID: "user-123", Email: "user@example.com"})
	require.NoError(t, err)

	_, err = b.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"uid":   "user-123",
		"email": "user@example.com",
		"exp":   time.Now().Add(time.Minute).Unix(),
		"iat":   time.Now().Unix(),
	})
	raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	iss := NewIssuer("test-secret", DefaultTTL)
	_, err = iss.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestIssuerDefaultTTL(t *testing.T) {
	iss := NewIssuer("test-secret", 0)
	assert.Equal(t, DefaultTTL, iss.TTL())
}
