// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONWebKeySet(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{name: "valid", url: "https://issuer.example.com/keys"},
		{name: "empty", url: "", wantErr: ErrInvalidParameter},
		{name: "not-http", url: "ftp://issuer.example.com/keys", wantErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			ks, err := NewJSONWebKeySet(tt.url)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			assert.Equal(DefaultCacheTTL, ks.ttl)
			assert.Equal(DefaultMinRefreshInterval, ks.minRefresh)
		})
	}
}

func TestJSONWebKeySet_VerificationKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("cached", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := startTestJWKSServer(t, testJWK(priv.Public(), testKeyID, RS256))
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()))
		require.NoError(err)

		for i := 0; i < 3; i++ {
			keys, err := ks.VerificationKeys(ctx, testKeyID, RS256)
			require.NoError(err)
			require.Len(keys, 1)
			assert.True(priv.PublicKey.Equal(keys[0]))
		}
		assert.Equal(int32(1), srv.hits.Load())
	})

	t.Run("ttl-expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := startTestJWKSServer(t, testJWK(priv.Public(), testKeyID, RS256))
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()), WithCacheTTL(20*time.Millisecond))
		require.NoError(err)

		_, err = ks.VerificationKeys(ctx, testKeyID, RS256)
		require.NoError(err)
		time.Sleep(50 * time.Millisecond)
		_, err = ks.VerificationKeys(ctx, testKeyID, RS256)
		require.NoError(err)
		assert.Equal(int32(2), srv.hits.Load())
	})

	t.Run("unknown-kid-refetch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := startTestJWKSServer(t, testJWK(priv.Public(), testKeyID, RS256))
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()), WithMinRefreshInterval(0))
		require.NoError(err)

		_, err = ks.VerificationKeys(ctx, testKeyID, RS256)
		require.NoError(err)

		srv.setKeys(testJWK(priv2.Public(), "rotated", RS256))
		keys, err := ks.VerificationKeys(ctx, "rotated", RS256)
		require.NoError(err)
		require.Len(keys, 1)
		assert.True(priv2.PublicKey.Equal(keys[0]))
		assert.Equal(int32(2), srv.hits.Load())
	})

	t.Run("refetch-rate-limited", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		now := time.Now()
		srv := startTestJWKSServer(t, testJWK(priv.Public(), testKeyID, RS256))
		ks, err := NewJSONWebKeySet(srv.URL,
			WithHTTPClient(srv.Client()),
			withNow(func() time.Time { return now }),
		)
		require.NoError(err)

		_, err = ks.VerificationKeys(ctx, testKeyID, RS256)
		require.NoError(err)

		srv.setKeys(testJWK(priv2.Public(), "rotated", RS256))
		_, err = ks.VerificationKeys(ctx, "rotated", RS256)
		require.Error(err)
		assert.ErrorIs(err, ErrKeyNotFound)
		_, err = ks.VerificationKeys(ctx, "unknown", RS256)
		assert.ErrorIs(err, ErrKeyNotFound)
		assert.Equal(int32(1), srv.hits.Load())

		// once the interval has passed the refetch happens
		now = now.Add(DefaultMinRefreshInterval + time.Second)
		_, err = ks.VerificationKeys(ctx, "rotated", RS256)
		require.NoError(err)
		assert.Equal(int32(2), srv.hits.Load())
	})

	t.Run("no-kid-single-key", func(t *testing.T) {
		require := require.New(t)
		srv := startTestJWKSServer(t, jose.JSONWebKey{Key: priv.Public()})
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()))
		require.NoError(err)
		keys, err := ks.VerificationKeys(ctx, "", RS256)
		require.NoError(err)
		require.Len(keys, 1)
	})

	t.Run("no-kid-ambiguous", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := startTestJWKSServer(t,
			testJWK(priv.Public(), "one", RS256),
			testJWK(priv2.Public(), "two", RS256),
		)
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()))
		require.NoError(err)
		_, err = ks.VerificationKeys(ctx, "", RS256)
		require.Error(err)
		assert.ErrorIs(err, ErrKeyNotFound)
		assert.Equal(int32(1), srv.hits.Load())
	})

	t.Run("skips-encryption-keys", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := startTestJWKSServer(t,
			jose.JSONWebKey{Key: priv2.Public(), KeyID: testKeyID, Use: "enc"},
			testJWK(priv.Public(), testKeyID, RS256),
		)
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()))
		require.NoError(err)
		keys, err := ks.VerificationKeys(ctx, testKeyID, RS256)
		require.NoError(err)
		require.Len(keys, 1)
		assert.True(priv.PublicKey.Equal(keys[0]))
	})

	t.Run("alg-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := startTestJWKSServer(t, testJWK(priv.Public(), testKeyID, RS256))
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()), WithMinRefreshInterval(time.Hour))
		require.NoError(err)
		_, err = ks.VerificationKeys(ctx, testKeyID, ES256)
		require.Error(err)
		assert.ErrorIs(err, ErrKeyNotFound)
	})
}

func TestJSONWebKeySet_FetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "not-found", status: http.StatusNotFound, body: "nope", wantErr: ErrKeySetFetch},
		{name: "not-json", status: http.StatusOK, body: "<html>", wantErr: ErrKeySetFetch},
		{name: "empty", status: http.StatusOK, body: `{"keys":[]}`, wantErr: ErrEmptyKeySet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			srv := startTestJWKSServer(t)
			srv.setResponse(tt.status, tt.body)
			ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()))
			require.NoError(err)
			_, err = ks.VerificationKeys(context.Background(), testKeyID, RS256)
			require.Error(err)
			assert.ErrorIs(err, tt.wantErr)
		})
	}
}

func TestJSONWebKeySet_SizeLimit(t *testing.T) {
	key, err := json.Marshal(testJWK(priv.Public(), testKeyID, RS256))
	require.NoError(t, err)
	padded := func(n int) string {
		return `{"keys":[` + string(key) + `],"pad":"` + strings.Repeat("a", n) + `"}`
	}
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "near-limit", body: padded(maxJWKSSize - 4096)},
		{name: "over-limit", body: padded(maxJWKSSize), wantErr: ErrKeySetFetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			srv := startTestJWKSServer(t)
			srv.setResponse(http.StatusOK, tt.body)
			ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()))
			require.NoError(err)
			keys, err := ks.VerificationKeys(context.Background(), testKeyID, RS256)
			if tt.wantErr != nil {
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			require.Len(keys, 1)
			assert.True(priv.PublicKey.Equal(keys[0]))
		})
	}
}

func TestNewStaticKeySet(t *testing.T) {
	assert, require := assert.New(t), require.New(t)

	ecPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	ks, err := NewStaticKeySet([]string{testPublicKeyPEM(t, priv.Public()), testPublicKeyPEM(t, ecPriv.Public())})
	require.NoError(err)

	keys, err := ks.VerificationKeys(context.Background(), "ignored", RS256)
	require.NoError(err)
	require.Len(keys, 1)
	assert.True(priv.PublicKey.Equal(keys[0]))

	keys, err = ks.VerificationKeys(context.Background(), "", ES256)
	require.NoError(err)
	require.Len(keys, 1)
	assert.True(ecPriv.PublicKey.Equal(keys[0]))

	_, err = NewStaticKeySet(nil)
	assert.ErrorIs(err, ErrInvalidParameter)

	_, err = NewStaticKeySet([]string{"not a pem"})
	assert.Error(err)
}

func TestParsePublicKeyPEM(t *testing.T) {
	ecPriv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name    string
		pem     string
		want    crypto.PublicKey
		wantErr bool
	}{
		{name: "rsa-pkix", pem: testPublicKeyPEM(t, priv.Public()), want: priv.Public()},
		{name: "ecdsa-pkix", pem: testPublicKeyPEM(t, ecPriv.Public()), want: ecPriv.Public()},
		{name: "certificate", pem: testCertificatePEM(t, priv), want: priv.Public()},
		{name: "garbage", pem: "-----BEGIN PUBLIC KEY-----\nZm9v\n-----END PUBLIC KEY-----\n", wantErr: true},
		{name: "empty", pem: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := ParsePublicKeyPEM([]byte(tt.pem))
			if tt.wantErr {
				require.Error(err)
				return
			}
			require.NoError(err)
			assert.True(tt.want.(interface{ Equal(crypto.PublicKey) bool }).Equal(got))
		})
	}
}

func testPublicKeyPEM(t *testing.T, pub crypto.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func testCertificatePEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}
