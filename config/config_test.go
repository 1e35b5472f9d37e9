// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  base_url: http://localhost:8080
  login_timeout: 2m
session:
  hash_key: aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g=
  block_key: YmxvY2tibG9ja2Jsb2NrYmxvY2tibG9ja2Jsb2NrMTI=
okta:
  issuer: https://example.okta.com
  client_id: 0oa1example
  client_secret: file-secret
auth0:
  my_account_url: https://tenant.auth0.com/me/v1
resources:
  - name: hr
    display_name: HR
    steps:
      - kind: id-jag
        audience: https://hr.example.com
        resource: api://hr
        scopes: [employees.read]
      - kind: jwt-bearer
        token_url: https://hr.example.com/oauth2/token
        client:
          client_id: hr-client
          client_secret: hr-secret
          auth_method: client_secret_post
    api:
      url: https://hr.example.com/hr/employees
  - name: kpi
    subject: access_token
    steps:
      - kind: service-account
        token_url: https://example.okta.com/oauth2/v1/token
    api:
      url: https://kpi.example.com/kpi/metrics
      method: post
resource_server:
  apis:
    - name: kpi
      path: /kpi/metrics
      username: svc-reporting
      password: svc-password
`

func TestLoad(t *testing.T) {
	t.Run("file-and-env", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "caademo.yaml")
		require.NoError(os.WriteFile(path, []byte(testYAML), 0o600))
		t.Setenv("CAA_OKTA_CLIENT_SECRET", "env-secret")
		t.Setenv("CAA_RESOURCE_SERVER_LISTEN", ":9999")

		c, err := Load(path)
		require.NoError(err)
		require.NoError(c.Validate())

		assert.Equal("http://localhost:8080", c.Server.BaseURL)
		assert.Equal(2*time.Minute, c.Server.LoginTimeout)
		assert.Equal(":8080", c.Server.Listen)
		assert.Equal(10*time.Minute, c.Server.ConnectTimeout)
		assert.Equal(8*time.Hour, c.Session.MaxAge)
		assert.Equal("env-secret", c.Okta.ClientSecret)
		assert.Equal([]string{"profile", "email"}, c.Okta.Scopes)
		assert.Equal("info", c.Log.Level)
		assert.Equal(":9999", c.ResourceServer.Listen)
		assert.Equal(10*time.Minute, c.ResourceServer.JWKSCacheTTL)

		require.Len(c.Resources, 2)
		hr := c.Resources[0]
		assert.Equal("HR", hr.DisplayName)
		require.Len(hr.Steps, 2)
		assert.Equal("id-jag", hr.Steps[0].Kind)
		assert.Equal([]string{"employees.read"}, hr.Steps[0].Scopes)
		assert.Equal(AuthClientSecretPost, hr.Steps[1].Client.AuthMethod)
		assert.Equal("access_token", c.Resources[1].Subject)
		assert.Equal("post", c.Resources[1].API.Method)
		require.Len(c.ResourceServer.APIs, 1)
		assert.Equal("svc-reporting", c.ResourceServer.APIs[0].Username)
	})

	t.Run("env-only", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		t.Setenv("CAA_OKTA_ISSUER", "https://env.okta.com")
		t.Setenv("CAA_LOG_JSON", "true")
		c, err := Load("")
		require.NoError(err)
		assert.Equal("https://env.okta.com", c.Okta.Issuer)
		assert.True(c.Log.JSON)
		assert.Empty(c.Resources)
	})

	t.Run("missing-file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, ErrLoad)
	})
}

func TestRead(t *testing.T) {
	assert, require := assert.New(t), require.New(t)

	c, err := Read(strings.NewReader(testYAML))
	require.NoError(err)
	assert.Equal("file-secret", c.Okta.ClientSecret)

	_, err = Read(strings.NewReader("server: ["))
	assert.ErrorIs(err, ErrLoad)

	_, err = Read(nil)
	assert.ErrorIs(err, ErrNilParameter)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	c, err := Read(strings.NewReader(testYAML))
	require.NoError(t, err)
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no-base-url", mutate: func(c *Config) { c.Server.BaseURL = "" }, wantErr: "server.base_url"},
		{name: "relative-base-url", mutate: func(c *Config) { c.Server.BaseURL = "/app" }, wantErr: "server.base_url"},
		{name: "short-hash-key", mutate: func(c *Config) { c.Session.HashKey = base64.StdEncoding.EncodeToString([]byte("short")) }, wantErr: "session.hash_key"},
		{name: "bad-block-key", mutate: func(c *Config) { c.Session.BlockKey = "not base64!" }, wantErr: "session.block_key"},
		{name: "no-client-id", mutate: func(c *Config) { c.Okta.ClientID = "" }, wantErr: "okta.client_id"},
		{name: "key-id-without-key", mutate: func(c *Config) { c.Okta.KeyID = "k1" }, wantErr: "okta.key_id"},
		{name: "bad-log-level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log.level"},
		{name: "bad-my-account-url", mutate: func(c *Config) { c.Auth0.MyAccountURL = "tenant.auth0.com" }, wantErr: "auth0.my_account_url"},
		{name: "duplicate-resource", mutate: func(c *Config) { c.Resources[1].Name = "hr" }, wantErr: `duplicate "hr"`},
		{name: "resource-name-with-slash", mutate: func(c *Config) { c.Resources[1].Name = "a/b" }, wantErr: "resources[1].name"},
		{name: "bad-subject", mutate: func(c *Config) { c.Resources[0].Subject = "saml" }, wantErr: "resources[hr].subject"},
		{name: "bad-method", mutate: func(c *Config) { c.Resources[0].API.Method = "TRACE" }, wantErr: "resources[hr].api.method"},
		{name: "no-api-url", mutate: func(c *Config) { c.Resources[0].API.URL = "" }, wantErr: "resources[hr].api.url"},
		{name: "unknown-kind", mutate: func(c *Config) { c.Resources[0].Steps[0].Kind = "saml-bearer" }, wantErr: "resources[hr].steps[0]: kind"},
		{name: "id-jag-without-audience", mutate: func(c *Config) { c.Resources[0].Steps[0].Audience = "" }, wantErr: "steps[0]: audience"},
		{name: "no-token-url", mutate: func(c *Config) { c.Resources[0].Steps[1].TokenURL = "" }, wantErr: "steps[1]: token_url"},
		{name: "no-client-secret", mutate: func(c *Config) { c.Resources[0].Steps[1].Client.ClientSecret = "" }, wantErr: "client.client_secret"},
		{name: "bad-auth-method", mutate: func(c *Config) { c.Resources[0].Steps[1].Client.AuthMethod = "tls_client_auth" }, wantErr: "client.auth_method"},
		{name: "client-without-id", mutate: func(c *Config) { c.Resources[0].Steps[1].Client.ClientID = "" }, wantErr: "client.client_id"},
		{
			name: "federated-without-connection",
			mutate: func(c *Config) {
				c.Resources[0].Steps = append(c.Resources[0].Steps, StepConfig{Kind: "federated-connection", TokenURL: "https://tenant.auth0.com/oauth/token"})
			},
			wantErr: "steps[2]: connection",
		},
		{
			name: "assertion-without-key",
			mutate: func(c *Config) {
				c.Resources[0].Steps[1].Kind = "jwt-bearer-assertion"
			},
			wantErr: "client.private_key_file: needed to sign the assertion",
		},
		{name: "resource-server-checked", mutate: func(c *Config) { c.ResourceServer.APIs[0].Password = "" }, wantErr: "resource_server.apis[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c := testConfig(t)
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(err)
				return
			}
			require.Error(err)
			assert.Contains(err.Error(), tt.wantErr)
		})
	}

	t.Run("every-problem-at-once", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		err := (&Config{}).Validate()
		require.Error(err)
		var merr *multierror.Error
		require.True(errors.As(err, &merr))
		assert.Len(merr.Errors, 5)
		assert.ErrorIs(err, ErrMissingValue)
	})

	t.Run("nil", func(t *testing.T) {
		var c *Config
		assert.ErrorIs(t, c.Validate(), ErrNilParameter)
	})
}

func TestResourceServerConfig_Validate(t *testing.T) {
	valid := func() ResourceServerConfig {
		return ResourceServerConfig{
			Listen: ":8081",
			APIs: []ResourceAPIConfig{
				{Name: "hr", Path: "/hr/employees", Issuer: "https://hr.example.com", JWKSURL: "https://hr.example.com/keys", Audiences: []string{"api://hr"}},
				{Name: "kpi", Path: "/kpi/metrics", Username: "u", Password: "p"},
			},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *ResourceServerConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*ResourceServerConfig) {}},
		{name: "no-listen", mutate: func(c *ResourceServerConfig) { c.Listen = "" }, wantErr: "resource_server.listen"},
		{name: "no-apis", mutate: func(c *ResourceServerConfig) { c.APIs = nil }, wantErr: "resource_server.apis"},
		{name: "relative-path", mutate: func(c *ResourceServerConfig) { c.APIs[0].Path = "hr" }, wantErr: "must start with /"},
		{name: "duplicate-path", mutate: func(c *ResourceServerConfig) { c.APIs[1].Path = "/hr/employees" }, wantErr: "duplicate"},
		{name: "no-issuer", mutate: func(c *ResourceServerConfig) { c.APIs[0].Issuer = "" }, wantErr: "apis[0].issuer"},
		{name: "no-audiences", mutate: func(c *ResourceServerConfig) { c.APIs[0].Audiences = nil }, wantErr: "apis[0].audiences"},
		{name: "bad-jwks-url", mutate: func(c *ResourceServerConfig) { c.APIs[0].JWKSURL = "keys" }, wantErr: "apis[0].jwks_url"},
		{name: "no-auth", mutate: func(c *ResourceServerConfig) { c.APIs[1].Username = "" }, wantErr: "needs jwks_url or username and password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSessionConfig_Keys(t *testing.T) {
	enc := func(n int) string { return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("k"), n)) }
	tests := []struct {
		name    string
		c       SessionConfig
		wantErr error
	}{
		{name: "valid", c: SessionConfig{HashKey: enc(64), BlockKey: enc(32)}},
		{name: "aes-128", c: SessionConfig{HashKey: enc(32), BlockKey: enc(16)}},
		{name: "missing", c: SessionConfig{HashKey: enc(32)}, wantErr: ErrMissingValue},
		{name: "short-hash", c: SessionConfig{HashKey: enc(31), BlockKey: enc(16)}, wantErr: ErrInvalidParameter},
		{name: "odd-block", c: SessionConfig{HashKey: enc(32), BlockKey: enc(20)}, wantErr: ErrInvalidParameter},
		{name: "not-base64", c: SessionConfig{HashKey: "***", BlockKey: enc(16)}, wantErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			hashKey, blockKey, err := tt.c.Keys()
			if tt.wantErr != nil {
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			assert.NotEmpty(hashKey)
			assert.NotEmpty(blockKey)
		})
	}
}

func TestOktaConfig_TokenURL(t *testing.T) {
	assert.Equal(t, "https://example.okta.com/oauth2/v1/token", OktaConfig{Issuer: "https://example.okta.com/"}.TokenURL())
}

func TestNewViper(t *testing.T) {
	for _, k := range envKeys {
		k := k
		t.Run(k, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			env := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))
			t.Setenv(env, "from-env")
			v, err := newViper()
			require.NoError(err)
			assert.Equal("from-env", v.GetString(k))
		})
	}
}
