// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	assertpkg "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	requirepkg "github.com/stretchr/testify/require"

	"github.com/caademo/caa/assertion"
	"github.com/caademo/caa/jwt"
	"github.com/caademo/caa/oidc"
)

func testRun(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := testRun(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "caademo dev"))
}

func TestDecode(t *testing.T) {
	tp := oidc.StartTestProvider(t)

	t.Run("id-jag", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tok := tp.SignJWT(map[string]interface{}{"sub": "00u1alice", "aud": "https://hr.example.com"}, "oauth-id-jag+jwt")
		out, err := testRun(t, "decode", tok)
		require.NoError(err)
		assert.Contains(out, `"typ": "oauth-id-jag+jwt"`)
		assert.Contains(out, `"sub": "00u1alice"`)
	})

	t.Run("not-a-jwt", func(t *testing.T) {
		_, err := testRun(t, "decode", "abc")
		assert.ErrorIs(t, err, jwt.ErrMalformed)
	})

	t.Run("needs-one-arg", func(t *testing.T) {
		_, err := testRun(t, "decode")
		assert.Error(t, err)
	})
}

func TestAssertion(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	key := oidc.TestGenerateRSAKey(t)
	keyFile := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(os.WriteFile(keyFile, []byte(assertion.TestPrivateKeyPEM(t, key, false)), 0o600))

	out, err := testRun(t, "assertion",
		"--client-id", "0oa1example",
		"--audience", "https://example.okta.com/oauth2/v1/token",
		"--key-file", keyFile,
		"--kid", "app-key-1",
	)
	require.NoError(err)
	d, err := jwt.Decode(strings.TrimSpace(out))
	require.NoError(err)
	assert.Equal("app-key-1", d.Header["kid"])
	assert.Equal("0oa1example", d.Claims.Issuer())
	assert.Equal("0oa1example", d.Claims.Subject())
	assert.Equal([]string{"https://example.okta.com/oauth2/v1/token"}, d.Claims.Audience())

	t.Run("defaults-from-env", func(t *testing.T) {
		assert, require := assertpkg.New(t), requirepkg.New(t)
		t.Setenv("CAA_OKTA_ISSUER", "https://env.okta.com")
		t.Setenv("CAA_OKTA_CLIENT_ID", "0oa1env")
		t.Setenv("CAA_OKTA_PRIVATE_KEY_FILE", keyFile)
		out, err := testRun(t, "assertion", "--subject", "alice@example.com")
		require.NoError(err)
		d, err := jwt.Decode(strings.TrimSpace(out))
		require.NoError(err)
		assert.Equal("0oa1env", d.Claims.Issuer())
		assert.Equal("alice@example.com", d.Claims.Subject())
		assert.Equal([]string{"https://env.okta.com/oauth2/v1/token"}, d.Claims.Audience())
	})

	t.Run("needs-a-key", func(t *testing.T) {
		assert, require := assertpkg.New(t), requirepkg.New(t)
		_, err := testRun(t, "assertion", "--client-id", "c", "--audience", "https://as.example.com/token")
		require.Error(err)
		assert.Contains(err.Error(), "key-file")
	})
}

func TestServe_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caademo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  base_url: not-a-url\n"), 0o600))
	_, err := testRun(t, "serve", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.base_url")
	assert.Contains(t, err.Error(), "okta.client_id")
}

func TestServeShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := serve(ctx, hclog.NewNullLogger(), "127.0.0.1:0", http.NotFoundHandler())
	assert.NoError(t, err)

	err = serve(context.Background(), hclog.NewNullLogger(), "256.0.0.1:bad", http.NotFoundHandler())
	assert.Error(t, err)
}
