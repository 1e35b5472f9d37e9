// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-key"

var (
	priv  *rsa.PrivateKey
	priv2 *rsa.PrivateKey
)

func init() {
	// RSA key generation is slow, so the keys are shared by every test.
	var err error
	if priv, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
		panic(err)
	}
	if priv2, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
		panic(err)
	}
}

// testJWKSServer serves a JWKS that tests can swap out and counts fetches.
type testJWKSServer struct {
	*httptest.Server
	mu     sync.Mutex
	keys   []jose.JSONWebKey
	status int
	body   string
	hits   atomic.Int32
}

func startTestJWKSServer(t *testing.T, keys ...jose.JSONWebKey) *testJWKSServer {
	t.Helper()
	s := &testJWKSServer{keys: keys, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.status)
		if s.body != "" {
			_, _ = w.Write([]byte(s.body))
			return
		}
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: s.keys})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testJWKSServer) setKeys(keys ...jose.JSONWebKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func (s *testJWKSServer) setResponse(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

func testJWK(pub crypto.PublicKey, kid string, alg Alg) jose.JSONWebKey {
	return jose.JSONWebKey{Key: pub, KeyID: kid, Algorithm: string(alg), Use: "sig"}
}

func testClaims(extra map[string]interface{}) map[string]interface{} {
	now := time.Now()
	c := map[string]interface{}{
		"iss": "https://issuer.example.com",
		"sub": "alice@example.com",
		"aud": "api://hr",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"scp": []string{"employees.read"},
	}
	for k, v := range extra {
		if v == nil {
			delete(c, k)
			continue
		}
		c[k] = v
	}
	return c
}

func testSignJWT(t *testing.T, key crypto.PrivateKey, alg Alg, claims interface{}, keyID string) string {
	t.Helper()
	opts := (&jose.SignerOptions{}).WithType("JWT")
	if keyID != "" {
		opts = opts.WithHeader("kid", keyID)
	}
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key}, opts)
	require.NoError(t, err)
	raw, err := josejwt.Signed(sig).Claims(claims).Serialize()
	require.NoError(t, err)
	return raw
}
