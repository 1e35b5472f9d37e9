// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	assert, require := assert.New(t), require.New(t)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := testSignJWT(t, priv2, RS256, testClaims(map[string]interface{}{"exp": exp.Unix()}), "unknown")

	// no signature check, so an unknown key still decodes
	d, err := Decode(tok)
	require.NoError(err)
	assert.Equal("RS256", d.Header["alg"])
	assert.Equal("unknown", d.Header["kid"])
	assert.Equal("JWT", d.Type())
	assert.Equal("alice@example.com", d.Claims.Subject())
	assert.Equal("https://issuer.example.com", d.Claims.Issuer())
	assert.True(exp.Equal(d.Claims.Expiry()))

	_, err = Decode("opaque-access-token")
	assert.ErrorIs(err, ErrMalformed)
	_, err = Decode("a.b.c")
	assert.ErrorIs(err, ErrMalformed)
}

func TestClaims(t *testing.T) {
	tests := []struct {
		name       string
		claims     Claims
		wantAud    []string
		wantScopes []string
		wantExp    time.Time
	}{
		{
			name:       "okta-access-token",
			claims:     Claims{"aud": "api://hr", "scp": []interface{}{"employees.read", "openid"}, "exp": float64(1700000000)},
			wantAud:    []string{"api://hr"},
			wantScopes: []string{"employees.read", "openid"},
			wantExp:    time.Unix(1700000000, 0),
		},
		{
			name:       "scope-string",
			claims:     Claims{"aud": []interface{}{"a", "b"}, "scope": "read write"},
			wantAud:    []string{"a", "b"},
			wantScopes: []string{"read", "write"},
		},
		{
			name:       "scp-string",
			claims:     Claims{"scp": "read"},
			wantScopes: []string{"read"},
		},
		{
			name:   "empty",
			claims: Claims{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tt.wantAud, tt.claims.Audience())
			assert.Equal(tt.wantScopes, tt.claims.Scopes())
			assert.True(tt.wantExp.Equal(tt.claims.Expiry()))
		})
	}
}

func TestSupportedSigningAlgorithm(t *testing.T) {
	assert := assert.New(t)
	assert.NoError(SupportedSigningAlgorithm(RS256, ES384, PS512))
	assert.ErrorIs(SupportedSigningAlgorithm(RS256, "HS256"), ErrUnsupportedAlg)
	assert.ErrorIs(SupportedSigningAlgorithm("none"), ErrUnsupportedAlg)
}
