// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	now := time.Now()
	nowFn := func() time.Time { return now }

	r, err := NewRequest(time.Minute, "http://localhost/callback",
		WithNow(nowFn),
		WithScopes("profile"),
		WithAudiences("aud1"),
	)
	require.NoError(err)
	assert.NotEmpty(r.State())
	assert.NotEmpty(r.Nonce())
	assert.NotEqual(r.State(), r.Nonce())
	assert.Equal("http://localhost/callback", r.RedirectURL())
	assert.Equal([]string{"profile"}, r.Scopes())
	assert.Equal([]string{"aud1"}, r.Audiences())
	assert.Equal(now.Add(time.Minute), r.Expiration())
	require.NotNil(r.PKCEVerifier())
	assert.Equal(S256, r.PKCEVerifier().Method())
	assert.False(r.IsExpired())

	now = now.Add(time.Minute)
	assert.True(r.IsExpired())

	v, err := NewCodeVerifier()
	require.NoError(err)
	r, err = NewRequest(time.Minute, "http://localhost/callback", WithPKCE(v))
	require.NoError(err)
	assert.Equal(v.Verifier(), r.PKCEVerifier().Verifier())

	_, err = NewRequest(0, "http://localhost/callback")
	assert.ErrorIs(err, ErrInvalidParameter)
	_, err = NewRequest(time.Minute, "")
	assert.ErrorIs(err, ErrInvalidParameter)
}

func TestRequest_JSON(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	r, err := NewRequest(time.Minute, "http://localhost/callback", WithScopes("profile"))
	require.NoError(err)

	b, err := json.Marshal(r)
	require.NoError(err)

	var got Request
	require.NoError(json.Unmarshal(b, &got))
	assert.Equal(r.State(), got.State())
	assert.Equal(r.Nonce(), got.Nonce())
	assert.Equal(r.RedirectURL(), got.RedirectURL())
	assert.Equal(r.Scopes(), got.Scopes())
	assert.True(r.Expiration().Equal(got.Expiration()))
	assert.Equal(r.PKCEVerifier().Verifier(), got.PKCEVerifier().Verifier())
	assert.Equal(r.PKCEVerifier().Challenge(), got.PKCEVerifier().Challenge())

	assert.Error(json.Unmarshal([]byte(`{"state":"s"}`), &got))
	assert.Error(json.Unmarshal([]byte(`{"state":"s","nonce":"n","code_verifier":"short"}`), &got))
}
