package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pub := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return priv, string(pub)
}

func signExternal(t *testing.T, priv *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)
	return raw
}

func verifierWithKey(t *testing.T, pubPEM string) *KeyVerifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Write([]byte(pubPEM))
	}))
	t.Cleanup(srv.Close)

	v := &KeyVerifier{
		httpClient: srv.Client(),
		log:        zap.NewNop(),
		keyURL:     srv.URL,
		leeway:     time.Minute,
		cacheTTL:   time.Hour,
	}
	require.NoError(t, v.refreshKey(context.Background()))
	return v
}

func TestKeyVerifierAcceptsValidCredential(t *testing.T) {
	priv, pubPEM := testKeyPair(t)
	v := verifierWithKey(t, pubPEM)

	raw := signExternal(t, priv, jwt.MapClaims{
		"uid":   "user-123",
		"email": "user@example.com",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	sub, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-123", sub.UID)
	assert.Equal(t, "user@example.com", sub.Email)
}

func TestKeyVerifierUIDFallsBackToSub(t *testing.T) {
	priv, pubPEM := testKeyPair(t)
	v := verifierWithKey(t, pubPEM)

	raw := signExternal(t, priv, jwt.MapClaims{
		"sub": "subject-9",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	sub, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "subject-9", sub.UID)
}

func TestKeyVerifierRejectsExpired(t *testing.T) {
	priv, pubPEM := testKeyPair(t)
	v := verifierWithKey(t, pubPEM)
	v.leeway = 0

	raw := signExternal(t, priv, jwt.MapClaims{
		"uid": "user-123",
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestKeyVerifierRejectsWrongKey(t *testing.T) {
	_, pubPEM := testKeyPair(t)
	other, _ := testKeyPair(t)
	v := verifierWithKey(t, pubPEM)

	raw := signExternal(t, other, jwt.MapClaims{
		"uid": "user-123",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestKeyVerifierChecksIssuerAndAudience(t *testing.T) {
	priv, pubPEM := testKeyPair(t)
	v := verifierWithKey(t, pubPEM)
	v.issuer = "https://id.example.com"
	v.audience = "chat-edge"

	good := signExternal(t, priv, jwt.MapClaims{
		"uid": "user-123",
		"iss": "https://id.example.com",
		"aud": "chat-edge",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err := v.Verify(context.Background(), good)
	assert.NoError(t, err)

	wrongIss := signExternal(t, priv, jwt.MapClaims{
		"uid": "user-123",
		"iss": "https://evil.example.com",
		"aud": "chat-edge",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(context.Background(), wrongIss)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestKeyVerifierNoKeyFailsClosed(t *testing.T) {
	v := &KeyVerifier{log: zap.NewNop()}
	_, err := v.Verify(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
