// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodeVerifier(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	v, err := NewCodeVerifier()
	require.NoError(err)
	assert.Len(v.Verifier(), verifierLen)
	assert.Equal(S256, v.Method())

	sum := sha256.Sum256([]byte(v.Verifier()))
	assert.Equal(base64.RawURLEncoding.EncodeToString(sum[:]), v.Challenge())

	v2, err := NewCodeVerifier()
	require.NoError(err)
	assert.NotEqual(v.Verifier(), v2.Verifier())

	c := v.Copy()
	assert.Equal(v.Verifier(), c.Verifier())
	assert.Equal(v.Challenge(), c.Challenge())
}

func TestNewCodeVerifierFrom(t *testing.T) {
	tests := []struct {
		name     string
		verifier string
		wantErr  bool
	}{
		{name: "min", verifier: strings.Repeat("a", 43)},
		{name: "max", verifier: strings.Repeat("a", 128)},
		{name: "short", verifier: strings.Repeat("a", 42), wantErr: true},
		{name: "long", verifier: strings.Repeat("a", 129), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			v, err := NewCodeVerifierFrom(tt.verifier)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrInvalidParameter)
				return
			}
			require.NoError(err)
			assert.Equal(tt.verifier, v.Verifier())
		})
	}
}

func TestCreateCodeChallenge(t *testing.T) {
	assert := assert.New(t)
	// RFC 7636 appendix B
	v := &S256Verifier{verifier: "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"}
	got, err := CreateCodeChallenge(S256, v)
	assert.NoError(err)
	assert.Equal("E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", got)

	_, err = CreateCodeChallenge("plain", v)
	assert.ErrorIs(err, ErrUnsupportedChallengeMethod)
	_, err = CreateCodeChallenge(S256, nil)
	assert.ErrorIs(err, ErrNilParameter)
}
