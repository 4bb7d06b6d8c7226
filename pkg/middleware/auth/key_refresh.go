package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func (v *KeyVerifier) backgroundRefresh() {
	for {
		sleep := v.getCacheTTL()
		if sleep < 5*time.Second {
			sleep = 5 * time.Second
		}
		time.Sleep(sleep)
		_ = v.refreshKey(context.Background())
	}
}

func (v *KeyVerifier) refreshKey(ctx context.Context) error {
	if v.keyURL == "" {
		return errors.New("IDENTITY_KEY_URL not set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.keyURL, nil)
	if err != nil {
		return err
	}
	if etag := v.getETag(); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	req.Header.Set("Accept", "*/*")

	res, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// Honor 304 with previous key
	if res.StatusCode == http.StatusNotModified && v.getKey() != nil {
		v.updateCacheTTLFromHeaders(res)
		v.setLastFetch(time.Now())
		return nil
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("key fetch %s: %s", v.keyURL, res.Status)
	}

	ct := strings.ToLower(strings.TrimSpace(res.Header.Get("Content-Type")))
	var pub *rsa.PublicKey

	if strings.Contains(ct, "application/json") || strings.HasSuffix(strings.ToLower(v.keyURL), ".json") {
		pub, err = parseJWKS(res.Body, v.keyKID)
		if err != nil {
			return err
		}
	} else {
		pub, err = parsePEMKey(res.Body)
		if err != nil {
			return err
		}
	}

	// commit new state under lock
	v.mu.Lock()
	v.key = pub
	v.etag = res.Header.Get("ETag")
	v.updateCacheTTLFromHeadersLocked(res)
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}

func parseJWKS(r io.Reader, kid string) (*rsa.PublicKey, error) {
	var jwks struct {
		Keys []struct {
			Kty string `json:"kty"`
			Use string `json:"use"`
			Alg string `json:"alg"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(r).Decode(&jwks); err != nil {
		return nil, err
	}

	for i := range jwks.Keys {
		k := &jwks.Keys[i]
		if k.Kty != "RSA" {
			continue
		}
		if kid != "" {
			if k.Kid != kid {
				continue
			}
		} else if (k.Use != "" && k.Use != "sig") || (k.Alg != "" && !strings.EqualFold(k.Alg, "RS256")) {
			// default: first RSA signing key (RS256)
			continue
		}
		nBytes, err := b64url(k.N)
		if err != nil {
			return nil, fmt.Errorf("bad jwks.n: %w", err)
		}
		eBytes, err := b64url(k.E)
		if err != nil {
			return nil, fmt.Errorf("bad jwks.e: %w", err)
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: bytesToInt(eBytes),
		}, nil
	}
	return nil, errors.New("no suitable RSA key in JWKS")
}

func parsePEMKey(r io.Reader) (*rsa.PublicKey, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("no PEM block in response")
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rk, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("PEM is not RSA public key")
	}
	return rk, nil
}

func (v *KeyVerifier) updateCacheTTLFromHeaders(res *http.Response) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.updateCacheTTLFromHeadersLocked(res)
}

func (v *KeyVerifier) updateCacheTTLFromHeadersLocked(res *http.Response) {
	cc := res.Header.Get("Cache-Control")
	if cc == "" {
		return
	}
	for _, p := range strings.Split(cc, ",") {
		p = strings.TrimSpace(strings.ToLower(p))
		if strings.HasPrefix(p, "max-age=") {
			if s, err := strconv.Atoi(strings.TrimPrefix(p, "max-age=")); err == nil && s >= 5 {
				v.cacheTTL = time.Duration(s) * time.Second
				return
			}
		}
	}
}

func (v *KeyVerifier) getKey() *rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key
}

func (v *KeyVerifier) getETag() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.etag
}

func (v *KeyVerifier) getCacheTTL() time.Duration {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cacheTTL
}

func (v *KeyVerifier) setLastFetch(t time.Time) {
	v.mu.Lock()
	v.lastFetch = t
	v.mu.Unlock()
}

func b64url(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func bytesToInt(b []byte) int {
	// little helper for RSA exponent
	n := 0
	for _, x := range b {
		n = n<<8 | int(x)
	}
	if n == 0 {
		return 65537
	}
	return n
}
