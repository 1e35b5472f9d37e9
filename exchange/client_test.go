// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package exchange_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caademo/caa/assertion"
	"github.com/caademo/caa/exchange"
	"github.com/caademo/caa/jwt"
	"github.com/caademo/caa/oidc"
)

func testClient(t *testing.T, tp *oidc.TestProvider, auth exchange.ClientAuth) *exchange.Client {
	t.Helper()
	c, err := exchange.NewClient(tp.TokenURL(), auth, exchange.WithHTTPClient(tp.HTTPClient()))
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	auth := exchange.ClientSecretBasic{ID: "id", Secret: "secret"}
	tests := []struct {
		name     string
		tokenURL string
		auth     exchange.ClientAuth
		wantErr  error
	}{
		{name: "valid", tokenURL: "https://acme.okta.com/oauth2/v1/token", auth: auth},
		{name: "empty-url", auth: auth, wantErr: exchange.ErrInvalidParameter},
		{name: "relative-url", tokenURL: "/token", auth: auth, wantErr: exchange.ErrInvalidParameter},
		{name: "nil-auth", tokenURL: "https://acme.okta.com/token", wantErr: exchange.ErrNilParameter},
		{name: "empty-client-id", tokenURL: "https://acme.okta.com/token", auth: exchange.None{}, wantErr: exchange.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := exchange.NewClient(tt.tokenURL, tt.auth)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			assert.Equal(tt.tokenURL, c.TokenURL())
			assert.Equal("id", c.ClientID())
		})
	}
}

func TestClient_TokenExchange_IDJAG(t *testing.T) {
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	idToken := tp.IDToken(oidc.TestClientID, "n")

	key := oidc.TestGenerateRSAKey(t)
	tp.SetClient(oidc.TestClient{ID: "pkjwt-client", PublicKey: key.Public()})
	tp.SetClient(oidc.TestClient{ID: "post-client", Secret: "post-secret"})
	tp.SetClient(oidc.TestClient{ID: "public-client", Public: true})

	auths := []exchange.ClientAuth{
		exchange.ClientSecretBasic{ID: oidc.TestClientID, Secret: oidc.TestClientSecret},
		exchange.ClientSecretPost{ID: "post-client", Secret: "post-secret"},
		exchange.PrivateKeyJWT{ID: "pkjwt-client", Key: key, KeyID: "k1"},
		exchange.None{ID: "public-client"},
	}
	for _, auth := range auths {
		t.Run(fmt.Sprintf("%T", auth), func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c := testClient(t, tp, auth)
			resp, err := c.TokenExchange(ctx, &exchange.TokenExchangeRequest{
				SubjectToken:       idToken,
				SubjectTokenType:   exchange.TokenTypeIDToken,
				RequestedTokenType: exchange.TokenTypeIDJAG,
				Audience:           "https://auth.hr.example.com",
				Resource:           "https://api.hr.example.com",
				Scopes:             []string{"employees.read"},
			})
			require.NoError(err)
			assert.Equal(exchange.TokenTypeIDJAG, resp.IssuedTokenType)
			assert.Equal("N_A", resp.TokenType)
			assert.False(resp.Expiry.IsZero())

			d, err := jwt.Decode(resp.AccessToken)
			require.NoError(err)
			assert.Equal(exchange.IDJAGType, d.Type())
			assert.Equal(auth.ClientID(), d.Claims.String("client_id"))
			assert.Equal("https://api.hr.example.com", d.Claims.String("resource"))
		})
	}

	reqs := tp.TokenRequests()
	require.Len(t, reqs, len(auths))
	assert.Equal(t, assertion.JWTTypeParam, reqs[2].Form.Get("client_assertion_type"))
	assert.Equal(t, "employees.read", reqs[0].Form.Get("scope"))
}

func TestClient_TokenExchange_Credentials(t *testing.T) {
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	c := testClient(t, tp, exchange.ClientSecretBasic{ID: oidc.TestClientID, Secret: oidc.TestClientSecret})

	tests := []struct {
		name      string
		tokenType string
		want      oidc.TestCredential
	}{
		{name: "vaulted-secret", tokenType: exchange.TokenTypeVaultedSecret, want: oidc.TestCredential{Username: "vault-user", Password: "vault-password"}},
		{name: "service-account", tokenType: exchange.TokenTypeServiceAccount, want: oidc.TestCredential{Username: "svc-reporting", Password: "svc-password"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			resp, err := c.TokenExchange(ctx, &exchange.TokenExchangeRequest{
				SubjectToken:       tp.AccessToken(""),
				SubjectTokenType:   exchange.TokenTypeAccessToken,
				RequestedTokenType: tt.tokenType,
				Audience:           "com.okta.reporting",
			})
			require.NoError(err)
			require.NotNil(resp.Credential)
			assert.Equal(tt.want.Username, resp.Credential.Username)
			assert.Equal(tt.want.Password, resp.Credential.Password)
			assert.Empty(resp.AccessToken)
			assert.NotContains(resp.Credential.String(), tt.want.Password)
			assert.NotContains(resp.String(), tt.want.Password)
		})
	}
}

func TestClient_TokenExchange_Errors(t *testing.T) {
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	c := testClient(t, tp, exchange.ClientSecretBasic{ID: oidc.TestClientID, Secret: oidc.TestClientSecret})
	idToken := tp.IDToken(oidc.TestClientID, "n")

	t.Run("invalid-request", func(t *testing.T) {
		assert := assert.New(t)
		_, err := c.TokenExchange(ctx, nil)
		assert.ErrorIs(err, exchange.ErrNilParameter)
		_, err = c.TokenExchange(ctx, &exchange.TokenExchangeRequest{SubjectTokenType: exchange.TokenTypeIDToken})
		assert.ErrorIs(err, exchange.ErrInvalidParameter)
		_, err = c.TokenExchange(ctx, &exchange.TokenExchangeRequest{SubjectToken: idToken})
		assert.ErrorIs(err, exchange.ErrInvalidParameter)
		_, err = c.TokenExchange(ctx, &exchange.TokenExchangeRequest{SubjectToken: idToken, SubjectTokenType: exchange.TokenTypeIDToken, ActorToken: "a"})
		assert.ErrorIs(err, exchange.ErrInvalidParameter)
	})

	t.Run("oauth-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp.SetTokenError(exchange.TokenTypeIDJAG, http.StatusBadRequest, "invalid_grant", "user is not assigned")
		defer tp.SetTokenError(exchange.TokenTypeIDJAG, 0, "", "")

		_, err := c.TokenExchange(ctx, &exchange.TokenExchangeRequest{
			SubjectToken:       idToken,
			SubjectTokenType:   exchange.TokenTypeIDToken,
			RequestedTokenType: exchange.TokenTypeIDJAG,
			Audience:           "x",
		})
		require.Error(err)
		var oauthErr *exchange.Error
		require.True(errors.As(err, &oauthErr))
		assert.Equal("invalid_grant", oauthErr.Code)
		assert.Equal("user is not assigned", oauthErr.Description)
		assert.Equal(http.StatusBadRequest, oauthErr.StatusCode)
	})

	t.Run("bad-client", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		bad := testClient(t, tp, exchange.ClientSecretBasic{ID: oidc.TestClientID, Secret: "wrong"})
		_, err := bad.TokenExchange(ctx, &exchange.TokenExchangeRequest{SubjectToken: idToken, SubjectTokenType: exchange.TokenTypeIDToken})
		var oauthErr *exchange.Error
		require.True(errors.As(err, &oauthErr))
		assert.Equal("invalid_client", oauthErr.Code)
		assert.Equal(http.StatusUnauthorized, oauthErr.StatusCode)
	})

	t.Run("federated-connection", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		r := &exchange.TokenExchangeRequest{
			GrantType:          exchange.GrantTypeFederatedConnection,
			SubjectToken:       tp.AccessToken(""),
			SubjectTokenType:   exchange.TokenTypeAccessToken,
			RequestedTokenType: exchange.TokenTypeFederatedConnection,
			Extra:              url.Values{"connection": {"github"}},
		}
		_, err := c.TokenExchange(ctx, r)
		var oauthErr *exchange.Error
		require.True(errors.As(err, &oauthErr))
		assert.Equal("federated_connection_refresh_token_not_found", oauthErr.Code)

		tp.SetConnected("github", true)
		resp, err := c.TokenExchange(ctx, r)
		require.NoError(err)
		assert.Equal(exchange.TokenTypeFederatedConnection, resp.IssuedTokenType)
		assert.NotEmpty(resp.AccessToken)
	})
}

func TestClient_JWTBearer(t *testing.T) {
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)

	t.Run("id-jag", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := testClient(t, tp, exchange.ClientSecretBasic{ID: oidc.TestClientID, Secret: oidc.TestClientSecret})
		jag, err := c.TokenExchange(ctx, &exchange.TokenExchangeRequest{
			SubjectToken:       tp.IDToken(oidc.TestClientID, "n"),
			SubjectTokenType:   exchange.TokenTypeIDToken,
			RequestedTokenType: exchange.TokenTypeIDJAG,
			Audience:           tp.Issuer(),
			Resource:           "api://hr",
			Scopes:             []string{"employees.read"},
		})
		require.NoError(err)

		resp, err := c.JWTBearer(ctx, jag.AccessToken)
		require.NoError(err)
		assert.Equal("Bearer", resp.TokenType)
		d, err := jwt.Decode(resp.AccessToken)
		require.NoError(err)
		assert.Equal([]string{"api://hr"}, d.Claims.Audience())
		assert.Equal([]string{"employees.read"}, d.Claims.Scopes())
	})

	t.Run("self-signed-grant", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		key := oidc.TestGenerateRSAKey(t)
		tp.SetClient(oidc.TestClient{ID: "sf-connected-app", Secret: "sf-secret", PublicKey: key.Public()})
		tp.SetJWTBearerExtras(map[string]interface{}{"instance_url": "https://acme.my.salesforce.com"})

		j, err := assertion.New("sf-connected-app", []string{tp.Issuer()},
			assertion.WithRSAKey(key, assertion.RS256),
			assertion.WithSubject("alice@example.com"),
		)
		require.NoError(err)
		signed, err := j.Serialize()
		require.NoError(err)

		c := testClient(t, tp, exchange.ClientSecretPost{ID: "sf-connected-app", Secret: "sf-secret"})
		resp, err := c.JWTBearer(ctx, signed, "api")
		require.NoError(err)
		assert.Equal("https://acme.my.salesforce.com", resp.Extra["instance_url"])
		d, err := jwt.Decode(resp.AccessToken)
		require.NoError(err)
		assert.Equal("alice@example.com", d.Claims.Subject())
	})

	t.Run("empty-assertion", func(t *testing.T) {
		c := testClient(t, tp, exchange.None{ID: "x"})
		_, err := c.JWTBearer(ctx, "")
		assert.ErrorIs(t, err, exchange.ErrInvalidParameter)
	})
}

func TestClient_Responses(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	tests := []struct {
		name    string
		status  int
		body    string
		jwt     bool
		wantErr error
		check   func(*testing.T, *exchange.Response)
	}{
		{
			name:    "plain-500",
			status:  http.StatusInternalServerError,
			body:    "boom",
			wantErr: exchange.ErrUnexpectedStatus,
		},
		{
			name:    "html-200",
			status:  http.StatusOK,
			body:    "<html>",
			wantErr: exchange.ErrInvalidResponse,
		},
		{
			name:    "missing-issued-type",
			status:  http.StatusOK,
			body:    `{"access_token":"at","token_type":"Bearer"}`,
			wantErr: exchange.ErrInvalidResponse,
		},
		{
			name:    "missing-access-token",
			status:  http.StatusOK,
			body:    `{"issued_token_type":"urn:ietf:params:oauth:token-type:access_token"}`,
			wantErr: exchange.ErrInvalidResponse,
		},
		{
			name:    "jwt-bearer-missing-access-token",
			status:  http.StatusOK,
			body:    `{"token_type":"Bearer"}`,
			jwt:     true,
			wantErr: exchange.ErrInvalidResponse,
		},
		{
			name:   "string-expires-in-and-extras",
			status: http.StatusOK,
			body:   `{"access_token":"at","issued_token_type":"urn:ietf:params:oauth:token-type:access_token","expires_in":"60","instance_url":"https://x"}`,
			check: func(t *testing.T, r *exchange.Response) {
				assert.Equal(t, 60, r.ExpiresIn)
				assert.True(t, now.Add(time.Minute).Equal(r.Expiry))
				assert.Equal(t, map[string]interface{}{"instance_url": "https://x"}, r.Extra)
			},
		},
		{
			name:   "near-size-limit",
			status: http.StatusOK,
			body:   paddedBody(`{"access_token":"at","issued_token_type":"urn:ietf:params:oauth:token-type:access_token","pad":"`, 1<<20-1024, `"}`),
			check: func(t *testing.T, r *exchange.Response) {
				assert.Equal(t, "at", r.AccessToken)
			},
		},
		{
			name:    "over-size-limit",
			status:  http.StatusOK,
			body:    paddedBody(`{"access_token":"at","issued_token_type":"urn:ietf:params:oauth:token-type:access_token","pad":"`, 1<<20, `"}`),
			wantErr: exchange.ErrInvalidResponse,
		},
		{
			name:    "oversized-oauth-error",
			status:  http.StatusBadRequest,
			body:    paddedBody(`{"error":"invalid_grant","error_description":"`, 1<<20, `"}`),
			wantErr: exchange.ErrUnexpectedStatus,
		},
		{
			name:   "credential-object",
			status: http.StatusOK,
			body:   `{"issued_token_type":"urn:okta:params:oauth:token-type:vaulted-secret","vaulted_secret":{"username":"u","password":"p"}}`,
			check: func(t *testing.T, r *exchange.Response) {
				require.NotNil(t, r.Credential)
				assert.Equal(t, "u", r.Credential.Username)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			c, err := exchange.NewClient(srv.URL, exchange.None{ID: "x"}, exchange.WithNow(func() time.Time { return now }))
			require.NoError(err)

			var resp *exchange.Response
			if tt.jwt {
				resp, err = c.JWTBearer(ctx, "a.b.c")
			} else {
				resp, err = c.TokenExchange(ctx, &exchange.TokenExchangeRequest{SubjectToken: "t", SubjectTokenType: exchange.TokenTypeAccessToken})
			}
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			tt.check(t, resp)
		})
	}
}

// paddedBody returns prefix + n bytes of padding + suffix.
func paddedBody(prefix string, n int, suffix string) string {
	return prefix + strings.Repeat("a", n) + suffix
}

func TestClientAuth_String(t *testing.T) {
	assert := assert.New(t)
	assert.NotContains(exchange.ClientSecretBasic{ID: "id", Secret: "s3cr3t"}.String(), "s3cr3t")
	assert.NotContains(exchange.ClientSecretPost{ID: "id", Secret: "s3cr3t"}.String(), "s3cr3t")
	assert.True(strings.Contains(exchange.TokenExchangeRequest{SubjectToken: "raw-token"}.String(), "[REDACTED]"))
	assert.NotContains(exchange.TokenExchangeRequest{SubjectToken: "raw-token"}.String(), "raw-token")
}

func TestError(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(`oauth error "invalid_grant" (status 400): expired`, (&exchange.Error{Code: "invalid_grant", Description: "expired", StatusCode: 400}).Error())
	assert.Equal(`oauth error "invalid_grant" (status 400): see https://x`, (&exchange.Error{Code: "invalid_grant", URI: "https://x", StatusCode: 400}).Error())
	assert.Equal(`oauth error "invalid_grant" (status 400)`, (&exchange.Error{Code: "invalid_grant", StatusCode: 400}).Error())
}
