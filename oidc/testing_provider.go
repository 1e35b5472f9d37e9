// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/caademo/caa/internal/strutils"
	"github.com/caademo/caa/jwt"
	sdkhttp "github.com/caademo/caa/sdk/http"
)

// Defaults registered with every TestProvider.
const (
	TestClientID      = "test-client-id"
	TestClientSecret  = "test-client-secret"
	TestRedirectURL   = "https://example.com/callback"
	TestSubject       = "00u1alice"
	TestEmail         = "alice@example.com"
	TestAccessTokenID = "api://default"
)

// the wire values a TestProvider understands
const (
	tpGrantAuthCode      = "authorization_code"
	tpGrantTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	tpGrantJWTBearer     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	tpGrantFederated     = "urn:auth0:params:oauth:grant-type:token-exchange:federated-connection-access-token"

	tpTypeIDToken      = "urn:ietf:params:oauth:token-type:id_token"
	tpTypeAccessToken  = "urn:ietf:params:oauth:token-type:access_token"
	tpTypeJWT          = "urn:ietf:params:oauth:token-type:jwt"
	tpTypeIDJAG        = "urn:ietf:params:oauth:token-type:id-jag"
	tpTypeVaulted      = "urn:okta:params:oauth:token-type:vaulted-secret"
	tpTypeServiceAcct  = "urn:okta:params:oauth:token-type:service-account"
	tpTypeFederated    = "http://auth0.com/oauth/token-type/federated-connection-access-token"
	tpClientAssertion  = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	tpIDJAGHeaderType  = "oauth-id-jag+jwt"
	tpFederatedMissing = "federated_connection_refresh_token_not_found"
)

// TestClient is a client registered with a TestProvider.
type TestClient struct {
	ID     string
	Secret string

	// PublicKey verifies private_key_jwt client assertions and self-signed
	// jwt-bearer grants issued by the client.
	PublicKey crypto.PublicKey

	// Public clients authenticate with their client_id alone.
	Public bool
}

// TestCredential is returned for vaulted-secret and service-account
// exchanges.
type TestCredential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TestTokenRequest records a request received by the token endpoint.
type TestTokenRequest struct {
	ClientID  string
	GrantType string
	Form      url.Values
}

type testTokenError struct {
	status int
	code   string
	desc   string
}

type testAuthCode struct {
	clientID    string
	redirectURI string
	nonce       string
	challenge   string
	scope       string
}

type testConnectSession struct {
	authSession string
	ticket      string
	connection  string
	redirectURI string
	state       string
	challenge   string
	scopes      []string
	code        string
	subject     string
}

// TestProvider is a local TLS server for tests.  It plays an Okta org
// (discovery, JWKS, authorize with PKCE, token, userinfo and logout), the
// authorization server of a resource (token exchange and jwt-bearer grants)
// and the Auth0 My Account API (connected accounts).  It started from
// Consul's oauthtest package; thanks to its original contributors.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	t          testing.TB

	mu sync.Mutex

	signingKey *rsa.PrivateKey
	keyID      string
	oldKeys    []jose.JSONWebKey

	clients             map[string]TestClient
	allowedRedirectURIs []string
	subject             string
	userClaims          map[string]interface{}
	customClaims        map[string]interface{}
	accessTokenAudience string
	jwtBearerExtras     map[string]interface{}
	credentials         map[string]TestCredential
	connected           map[string]bool
	tokenErrors         map[string]testTokenError
	omitIDToken         bool
	disableUserInfo     bool
	disableEndSession   bool
	idJAGLifetime       time.Duration
	tokenLifetime       time.Duration
	connectLifetime     time.Duration

	codes           map[string]*testAuthCode
	connectSessions map[string]*testConnectSession
	tokenRequests   []TestTokenRequest
	seq             int
}

// StartTestProvider creates and starts a disposable TestProvider which is
// stopped when the test finishes.
func StartTestProvider(t testing.TB) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:          t,
		signingKey: TestGenerateRSAKey(t),
		keyID:      "tp-key-1",
		clients: map[string]TestClient{
			TestClientID: {ID: TestClientID, Secret: TestClientSecret},
		},
		allowedRedirectURIs: []string{TestRedirectURL},
		subject:             TestSubject,
		userClaims: map[string]interface{}{
			"email": TestEmail,
			"name":  "Alice Example",
		},
		accessTokenAudience: TestAccessTokenID,
		credentials: map[string]TestCredential{
			tpTypeVaulted:     {Username: "vault-user", Password: "vault-password"},
			tpTypeServiceAcct: {Username: "svc-reporting", Password: "svc-password"},
		},
		connected:       map[string]bool{},
		tokenErrors:     map[string]testTokenError{},
		idJAGLifetime:   5 * time.Minute,
		tokenLifetime:   time.Hour,
		connectLifetime: 5 * time.Minute,
		codes:           map[string]*testAuthCode{},
		connectSessions: map[string]*testConnectSession{},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = hclog.NewNullLogger().StandardLogger(nil)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the test provider, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// Issuer returns the provider's issuer.
func (p *TestProvider) Issuer() string { return p.httpServer.URL }

// TokenURL returns the provider's token endpoint.
func (p *TestProvider) TokenURL() string { return p.httpServer.URL + "/token" }

// JWKSURL returns the provider's JWKS endpoint.
func (p *TestProvider) JWKSURL() string { return p.httpServer.URL + "/keys" }

// MyAccountURL returns the base URL of the provider's My Account API.
func (p *TestProvider) MyAccountURL() string { return p.httpServer.URL + "/me/v1" }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http client trusting the provider's CA.
func (p *TestProvider) HTTPClient() *http.Client {
	c, err := sdkhttp.NewClient(p.caCert)
	require.NoError(p.t, err)
	return c
}

// SigningKey returns the provider's current signing key and kid.
func (p *TestProvider) SigningKey() (*rsa.PrivateKey, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signingKey, p.keyID
}

// RotateSigningKey replaces the signing key.  The old key stays in the JWKS
// when keepOld is true.
func (p *TestProvider) RotateSigningKey(keepOld bool) (*rsa.PrivateKey, string) {
	k := TestGenerateRSAKey(p.t)
	p.mu.Lock()
	defer p.mu.Unlock()
	if keepOld {
		p.oldKeys = append(p.oldKeys, p.currentJWK())
	} else {
		p.oldKeys = nil
	}
	p.seq++
	p.signingKey = k
	p.keyID = fmt.Sprintf("tp-key-%d", p.seq+1)
	return p.signingKey, p.keyID
}

// SetClient registers (or replaces) a client.
func (p *TestProvider) SetClient(c TestClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[c.ID] = c
}

// SetAllowedRedirectURIs configures the redirect URIs accepted by /authorize
// and /token.
func (p *TestProvider) SetAllowedRedirectURIs(uris ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetUser configures the subject and profile claims of the logged in user.
func (p *TestProvider) SetUser(subject string, claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = subject
	p.userClaims = claims
}

// SetCustomClaims sets extra claims for issued id_tokens.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetAccessTokenAudience sets the "aud" of access tokens issued without an
// explicit audience.
func (p *TestProvider) SetAccessTokenAudience(aud string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokenAudience = aud
}

// SetJWTBearerExtras sets extra token response fields for self-signed
// jwt-bearer grants, e.g. Salesforce's instance_url.
func (p *TestProvider) SetJWTBearerExtras(extras map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jwtBearerExtras = extras
}

// SetCredential sets the credential returned for a vaulted-secret or
// service-account token type.
func (p *TestProvider) SetCredential(tokenType string, c TestCredential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credentials[tokenType] = c
}

// SetConnected marks a federated connection as connected (or not) for the
// Auth0 token vault exchange.
func (p *TestProvider) SetConnected(connection string, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected[connection] = connected
}

// Connected reports whether the connection has been connected.
func (p *TestProvider) Connected(connection string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected[connection]
}

// SetTokenError makes the token endpoint fail with an OAuth error.  The key
// is a grant_type or a requested_token_type; an empty code clears it.
func (p *TestProvider) SetTokenError(key string, status int, code, desc string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code == "" {
		delete(p.tokenErrors, key)
		return
	}
	p.tokenErrors[key] = testTokenError{status: status, code: code, desc: desc}
}

// SetIDJAGLifetime sets how long issued ID-JAGs are valid.  A negative value
// issues expired ID-JAGs.
func (p *TestProvider) SetIDJAGLifetime(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idJAGLifetime = d
}

// SetConnectLifetime sets the expires_in of started connect flows.  Zero
// leaves expires_in out of the response.
func (p *TestProvider) SetConnectLifetime(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectLifetime = d
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery config.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// DisableEndSession omits the end_session_endpoint from the discovery config.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

// TokenRequests returns the requests received by the token endpoint.
func (p *TestProvider) TokenRequests() []TestTokenRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TestTokenRequest(nil), p.tokenRequests...)
}

// SignJWT signs claims with the provider's current key.
func (p *TestProvider) SignJWT(claims map[string]interface{}, typ string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signJWT(claims, typ)
}

// IDToken issues an id_token for the configured user and the client.
func (p *TestProvider) IDToken(clientID, nonce string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idToken(clientID, nonce)
}

// AccessToken issues an access token for the configured user.
func (p *TestProvider) AccessToken(aud string, scopes ...string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accessToken(p.subject, aud, TestClientID, scopes)
}

func (p *TestProvider) currentJWK() jose.JSONWebKey {
	return jose.JSONWebKey{Key: p.signingKey.Public(), KeyID: p.keyID, Algorithm: string(jwt.RS256), Use: "sig"}
}

func (p *TestProvider) signJWT(claims map[string]interface{}, typ string) string {
	return TestSignJWT(p.t, p.signingKey, jwt.RS256, claims, p.keyID, typ)
}

func (p *TestProvider) nextID(prefix string) string {
	p.seq++
	id, err := NewID(prefix)
	require.NoError(p.t, err)
	return id
}

func (p *TestProvider) stdClaims(sub string, aud interface{}, ttl time.Duration) map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"iss": p.Addr(),
		"sub": sub,
		"aud": aud,
		"iat": now.Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": p.nextID("jti"),
	}
}

func (p *TestProvider) idToken(clientID, nonce string) string {
	c := p.stdClaims(p.subject, clientID, 5*time.Minute)
	if nonce != "" {
		c["nonce"] = nonce
	}
	for k, v := range p.userClaims {
		c[k] = v
	}
	for k, v := range p.customClaims {
		c[k] = v
	}
	return p.signJWT(c, "")
}

func (p *TestProvider) accessToken(sub, aud, clientID string, scopes []string) string {
	if aud == "" {
		aud = p.accessTokenAudience
	}
	c := p.stdClaims(sub, aud, p.tokenLifetime)
	c["cid"] = clientID
	if len(scopes) > 0 {
		c["scp"] = scopes
	}
	if email, ok := p.userClaims["email"]; ok {
		c["email"] = email
	}
	return p.signJWT(c, "")
}

// verifyOwnJWT checks a JWT was signed by the provider and isn't expired.
func (p *TestProvider) verifyOwnJWT(token string) (map[string]interface{}, string, error) {
	keys := append([]jose.JSONWebKey{p.currentJWK()}, p.oldKeys...)
	return verifyTestJWT(token, keys...)
}

func verifyTestJWT(token string, keys ...jose.JSONWebKey) (map[string]interface{}, string, error) {
	parsed, err := josejwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256, jose.RS384, jose.RS512})
	if err != nil {
		return nil, "", err
	}
	if len(parsed.Headers) != 1 {
		return nil, "", fmt.Errorf("expected one signature")
	}
	typ, _ := parsed.Headers[0].ExtraHeaders["typ"].(string)
	var lastErr error = fmt.Errorf("no verification key")
	for _, k := range keys {
		claims := map[string]interface{}{}
		var std josejwt.Claims
		if err := parsed.Claims(k.Key, &claims, &std); err != nil {
			lastErr = err
			continue
		}
		if err := std.ValidateWithLeeway(josejwt.Expected{Time: time.Now()}, 0); err != nil {
			return nil, "", err
		}
		return claims, typ, nil
	}
	return nil, "", lastErr
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeTokenError(w http.ResponseWriter, status int, code, desc string) {
	p.writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}

func (p *TestProvider) writeAPIError(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"type":   "https://auth0.com/api-errors/" + strings.ReplaceAll(strings.ToLower(title), " ", "_"),
		"status": status,
		"title":  title,
		"detail": detail,
	})
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := map[string]interface{}{
			"issuer":                                p.Addr(),
			"authorization_endpoint":                p.Addr() + "/authorize",
			"token_endpoint":                        p.Addr() + "/token",
			"jwks_uri":                              p.Addr() + "/keys",
			"userinfo_endpoint":                     p.Addr() + "/userinfo",
			"end_session_endpoint":                  p.Addr() + "/logout",
			"id_token_signing_alg_values_supported": []string{"RS256"},
			"code_challenge_methods_supported":      []string{"S256"},
			"grant_types_supported":                 []string{tpGrantAuthCode, tpGrantTokenExchange, tpGrantJWTBearer},
		}
		if p.disableUserInfo {
			delete(reply, "userinfo_endpoint")
		}
		if p.disableEndSession {
			delete(reply, "end_session_endpoint")
		}
		p.writeJSON(w, http.StatusOK, reply)

	case "/keys":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: append([]jose.JSONWebKey{p.currentJWK()}, p.oldKeys...)})

	case "/authorize":
		p.handleAuthorize(w, req)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.handleToken(w, req)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		claims, err := p.bearerClaims(req)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{"sub": claims["sub"]}
		for k, v := range p.userClaims {
			reply[k] = v
		}
		p.writeJSON(w, http.StatusOK, reply)

	case "/logout":
		if target := req.URL.Query().Get("post_logout_redirect_uri"); target != "" {
			http.Redirect(w, req, target, http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	case "/me/v1/connected-accounts/connect":
		p.handleConnect(w, req)

	case "/connect":
		p.handleConnectConsent(w, req)

	case "/me/v1/connected-accounts/complete":
		p.handleConnectComplete(w, req)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleAuthorize(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri")
	if !strutils.StrListContains(p.allowedRedirectURIs, redirectURI) {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	}
	authErr := func(code, desc string) {
		u, _ := url.Parse(redirectURI)
		q := u.Query()
		q.Set("state", qv.Get("state"))
		q.Set("error", code)
		if desc != "" {
			q.Set("error_description", desc)
		}
		u.RawQuery = q.Encode()
		http.Redirect(w, req, u.String(), http.StatusFound)
	}

	switch {
	case qv.Get("response_type") != "code":
		authErr("unsupported_response_type", "")
		return
	case !strutils.StrListContains(strutils.SplitScopes(qv.Get("scope")), "openid"):
		authErr("invalid_scope", "openid scope is required")
		return
	case qv.Get("state") == "":
		authErr("invalid_request", "missing state parameter")
		return
	case qv.Get("code_challenge") == "" || qv.Get("code_challenge_method") != "S256":
		authErr("invalid_request", "PKCE with S256 is required")
		return
	}
	if _, ok := p.clients[qv.Get("client_id")]; !ok {
		authErr("unauthorized_client", "unknown client_id")
		return
	}

	code := p.nextID("code")
	p.codes[code] = &testAuthCode{
		clientID:    qv.Get("client_id"),
		redirectURI: redirectURI,
		nonce:       qv.Get("nonce"),
		challenge:   qv.Get("code_challenge"),
		scope:       qv.Get("scope"),
	}
	u, _ := url.Parse(redirectURI)
	q := u.Query()
	q.Set("state", qv.Get("state"))
	q.Set("code", code)
	u.RawQuery = q.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

// authenticateClient supports client_secret_basic, client_secret_post,
// private_key_jwt and public clients.
func (p *TestProvider) authenticateClient(req *http.Request) (TestClient, error) {
	if id, secret, ok := req.BasicAuth(); ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
		c, found := p.clients[id]
		if !found || c.Secret == "" || c.Secret != secret {
			return TestClient{}, fmt.Errorf("bad client_secret_basic credentials")
		}
		return c, nil
	}
	if req.PostFormValue("client_assertion_type") == tpClientAssertion {
		claims, _, err := p.verifyClientSignedJWT(req.PostFormValue("client_assertion"))
		if err != nil {
			return TestClient{}, fmt.Errorf("bad client assertion: %w", err)
		}
		iss, _ := claims["iss"].(string)
		if sub, _ := claims["sub"].(string); sub != iss {
			return TestClient{}, fmt.Errorf("client assertion sub must equal iss")
		}
		if !audienceContains(claims["aud"], p.Addr()+"/token") {
			return TestClient{}, fmt.Errorf("client assertion aud must be the token endpoint")
		}
		return p.clients[iss], nil
	}
	id := req.PostFormValue("client_id")
	c, found := p.clients[id]
	switch {
	case !found:
		return TestClient{}, fmt.Errorf("unknown client %q", id)
	case req.PostFormValue("client_secret") != "":
		if c.Secret != req.PostFormValue("client_secret") {
			return TestClient{}, fmt.Errorf("bad client_secret_post credentials")
		}
		return c, nil
	case c.Public:
		return c, nil
	default:
		return TestClient{}, fmt.Errorf("client %q must authenticate", id)
	}
}

// verifyClientSignedJWT verifies a JWT signed by a registered client's key.
func (p *TestProvider) verifyClientSignedJWT(token string) (map[string]interface{}, TestClient, error) {
	d, err := jwt.Decode(token)
	if err != nil {
		return nil, TestClient{}, err
	}
	c, ok := p.clients[d.Claims.Issuer()]
	if !ok || c.PublicKey == nil {
		return nil, TestClient{}, fmt.Errorf("no key registered for %q", d.Claims.Issuer())
	}
	claims, _, err := verifyTestJWT(token, jose.JSONWebKey{Key: c.PublicKey})
	if err != nil {
		return nil, TestClient{}, err
	}
	return claims, c, nil
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	client, err := p.authenticateClient(req)
	if err != nil {
		p.writeTokenError(w, http.StatusUnauthorized, "invalid_client", err.Error())
		return
	}
	grantType := req.PostFormValue("grant_type")
	p.tokenRequests = append(p.tokenRequests, TestTokenRequest{
		ClientID:  client.ID,
		GrantType: grantType,
		Form:      req.PostForm,
	})

	for _, key := range []string{grantType, req.PostFormValue("requested_token_type")} {
		if e, ok := p.tokenErrors[key]; ok && key != "" {
			p.writeTokenError(w, e.status, e.code, e.desc)
			return
		}
	}

	switch grantType {
	case tpGrantAuthCode:
		p.handleAuthCodeGrant(w, req, client)
	case tpGrantTokenExchange:
		p.handleTokenExchange(w, req, client)
	case tpGrantFederated:
		p.handleFederatedExchange(w, req)
	case tpGrantJWTBearer:
		p.handleJWTBearer(w, req, client)
	default:
		p.writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", grantType)
	}
}

func (p *TestProvider) handleAuthCodeGrant(w http.ResponseWriter, req *http.Request, client TestClient) {
	code := p.codes[req.PostFormValue("code")]
	delete(p.codes, req.PostFormValue("code"))
	switch {
	case code == nil:
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "unknown or used auth code")
		return
	case code.clientID != client.ID:
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "code was issued to another client")
		return
	case code.redirectURI != req.PostFormValue("redirect_uri"):
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	case oauth2.S256ChallengeFromVerifier(req.PostFormValue("code_verifier")) != code.challenge:
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	scopes := strutils.SplitScopes(code.scope)
	reply := map[string]interface{}{
		"access_token":  p.accessToken(p.subject, "", client.ID, scopes),
		"token_type":    "Bearer",
		"expires_in":    int(p.tokenLifetime.Seconds()),
		"scope":         code.scope,
		"refresh_token": p.nextID("rt"),
	}
	if !p.omitIDToken {
		reply["id_token"] = p.idToken(client.ID, code.nonce)
	}
	p.writeJSON(w, http.StatusOK, reply)
}

func (p *TestProvider) handleTokenExchange(w http.ResponseWriter, req *http.Request, client TestClient) {
	subjectToken := req.PostFormValue("subject_token")
	subjectType := req.PostFormValue("subject_token_type")
	if subjectToken == "" || subjectType == "" {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "subject_token and subject_token_type are required")
		return
	}
	subject, _, err := p.verifyOwnJWT(subjectToken)
	if err != nil {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "subject_token: "+err.Error())
		return
	}
	sub, _ := subject["sub"].(string)
	scope := req.PostFormValue("scope")
	audience := req.PostFormValue("audience")
	resource := req.PostFormValue("resource")

	switch requested := req.PostFormValue("requested_token_type"); requested {
	case tpTypeIDJAG:
		if subjectType != tpTypeIDToken {
			p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "an ID-JAG requires an id_token subject")
			return
		}
		if audience == "" {
			p.writeTokenError(w, http.StatusBadRequest, "invalid_target", "audience is required")
			return
		}
		c := p.stdClaims(sub, audience, p.idJAGLifetime)
		c["client_id"] = client.ID
		if scope != "" {
			c["scope"] = scope
		}
		if resource != "" {
			c["resource"] = resource
		}
		if email, ok := subject["email"]; ok {
			c["email"] = email
		}
		p.writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":      p.signJWT(c, tpIDJAGHeaderType),
			"issued_token_type": tpTypeIDJAG,
			"token_type":        "N_A",
			"expires_in":        int(p.idJAGLifetime.Seconds()),
			"scope":             scope,
		})

	case tpTypeVaulted:
		// the credential travels in access_token as a JSON string
		raw, _ := json.Marshal(p.credentials[tpTypeVaulted])
		p.writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":      string(raw),
			"issued_token_type": tpTypeVaulted,
			"token_type":        "N_A",
			"expires_in":        300,
		})

	case tpTypeServiceAcct:
		p.writeJSON(w, http.StatusOK, map[string]interface{}{
			"service_account":   p.credentials[tpTypeServiceAcct],
			"issued_token_type": tpTypeServiceAcct,
			"token_type":        "N_A",
			"expires_in":        300,
		})

	case tpTypeAccessToken, tpTypeJWT, "":
		aud := audience
		if aud == "" {
			aud = resource
		}
		issued := requested
		if issued == "" {
			issued = tpTypeAccessToken
		}
		p.writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":      p.accessToken(sub, aud, client.ID, strutils.SplitScopes(scope)),
			"issued_token_type": issued,
			"token_type":        "Bearer",
			"expires_in":        int(p.tokenLifetime.Seconds()),
			"scope":             scope,
		})

	default:
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "unsupported requested_token_type "+requested)
	}
}

func (p *TestProvider) handleFederatedExchange(w http.ResponseWriter, req *http.Request) {
	if req.PostFormValue("subject_token_type") != tpTypeAccessToken {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "subject_token_type must be an access token")
		return
	}
	if req.PostFormValue("requested_token_type") != tpTypeFederated {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "requested_token_type must be a federated connection access token")
		return
	}
	if _, _, err := p.verifyOwnJWT(req.PostFormValue("subject_token")); err != nil {
		p.writeTokenError(w, http.StatusUnauthorized, "invalid_grant", "subject_token: "+err.Error())
		return
	}
	connection := req.PostFormValue("connection")
	if connection == "" {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "connection is required")
		return
	}
	if !p.connected[connection] {
		p.writeTokenError(w, http.StatusUnauthorized, tpFederatedMissing, "Federated connection Refresh Token not found.")
		return
	}
	p.writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":      p.nextID("fed_" + connection),
		"issued_token_type": tpTypeFederated,
		"token_type":        "Bearer",
		"expires_in":        3600,
		"scope":             req.PostFormValue("scope"),
	})
}

func (p *TestProvider) handleJWTBearer(w http.ResponseWriter, req *http.Request, client TestClient) {
	assertion := req.PostFormValue("assertion")
	d, err := jwt.Decode(assertion)
	if err != nil {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "assertion: "+err.Error())
		return
	}
	scopes := strutils.SplitScopes(req.PostFormValue("scope"))

	if d.Type() == tpIDJAGHeaderType {
		claims, _, err := p.verifyOwnJWT(assertion)
		if err != nil {
			p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "ID-JAG: "+err.Error())
			return
		}
		if !audienceContains(claims["aud"], p.Addr()) {
			p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "ID-JAG audience is not this authorization server")
			return
		}
		if s, ok := claims["scope"].(string); ok && len(scopes) == 0 {
			scopes = strutils.SplitScopes(s)
		}
		aud, _ := claims["resource"].(string)
		sub, _ := claims["sub"].(string)
		p.writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": p.accessToken(sub, aud, client.ID, scopes),
			"token_type":   "Bearer",
			"expires_in":   int(p.tokenLifetime.Seconds()),
			"scope":        strutils.JoinScopes(scopes),
		})
		return
	}

	claims, issuer, err := p.verifyClientSignedJWT(assertion)
	if err != nil {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "assertion: "+err.Error())
		return
	}
	if !audienceContains(claims["aud"], p.Addr()) && !audienceContains(claims["aud"], p.Addr()+"/token") {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "assertion audience is not this authorization server")
		return
	}
	sub, _ := claims["sub"].(string)
	reply := map[string]interface{}{
		"access_token": p.accessToken(sub, "", issuer.ID, scopes),
		"token_type":   "Bearer",
		"scope":        strutils.JoinScopes(scopes),
	}
	for k, v := range p.jwtBearerExtras {
		reply[k] = v
	}
	p.writeJSON(w, http.StatusOK, reply)
}

func (p *TestProvider) bearerClaims(req *http.Request) (map[string]interface{}, error) {
	authz := req.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return nil, fmt.Errorf("missing bearer token")
	}
	claims, _, err := p.verifyOwnJWT(strings.TrimPrefix(authz, "Bearer "))
	return claims, err
}

func (p *TestProvider) handleConnect(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, err := p.bearerClaims(req)
	if err != nil {
		p.writeAPIError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	var body struct {
		Connection          string   `json:"connection"`
		RedirectURI         string   `json:"redirect_uri"`
		State               string   `json:"state"`
		Scopes              []string `json:"scopes"`
		CodeChallenge       string   `json:"code_challenge"`
		CodeChallengeMethod string   `json:"code_challenge_method"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		p.writeAPIError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if body.Connection == "" || body.RedirectURI == "" {
		p.writeAPIError(w, http.StatusBadRequest, "Bad Request", "connection and redirect_uri are required")
		return
	}
	if body.CodeChallenge != "" && body.CodeChallengeMethod != "S256" {
		p.writeAPIError(w, http.StatusBadRequest, "Bad Request", "code_challenge_method must be S256")
		return
	}
	sub, _ := claims["sub"].(string)
	s := &testConnectSession{
		authSession: p.nextID("as"),
		ticket:      p.nextID("tkt"),
		connection:  body.Connection,
		redirectURI: body.RedirectURI,
		state:       body.State,
		challenge:   body.CodeChallenge,
		scopes:      body.Scopes,
		subject:     sub,
	}
	p.connectSessions[s.authSession] = s
	reply := map[string]interface{}{
		"auth_session":   s.authSession,
		"connect_uri":    p.Addr() + "/connect",
		"connect_params": map[string]string{"ticket": s.ticket},
	}
	if p.connectLifetime > 0 {
		reply["expires_in"] = int(p.connectLifetime.Seconds())
	}
	p.writeJSON(w, http.StatusCreated, reply)
}

// handleConnectConsent stands in for the third party's consent screen, which
// approves right away.
func (p *TestProvider) handleConnectConsent(w http.ResponseWriter, req *http.Request) {
	ticket := req.URL.Query().Get("ticket")
	for _, s := range p.connectSessions {
		if s.ticket != ticket || ticket == "" {
			continue
		}
		s.code = p.nextID("cc")
		u, _ := url.Parse(s.redirectURI)
		q := u.Query()
		q.Set("connect_code", s.code)
		if s.state != "" {
			q.Set("state", s.state)
		}
		u.RawQuery = q.Encode()
		http.Redirect(w, req, u.String(), http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (p *TestProvider) handleConnectComplete(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, err := p.bearerClaims(req)
	if err != nil {
		p.writeAPIError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	var body struct {
		AuthSession  string `json:"auth_session"`
		ConnectCode  string `json:"connect_code"`
		RedirectURI  string `json:"redirect_uri"`
		CodeVerifier string `json:"code_verifier"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		p.writeAPIError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	s, ok := p.connectSessions[body.AuthSession]
	switch {
	case !ok:
		p.writeAPIError(w, http.StatusBadRequest, "Bad Request", "unknown auth_session")
		return
	case s.subject != claims["sub"]:
		p.writeAPIError(w, http.StatusForbidden, "Forbidden", "auth_session belongs to another user")
		return
	case s.code == "" || s.code != body.ConnectCode:
		p.writeAPIError(w, http.StatusBadRequest, "Bad Request", "invalid connect_code")
		return
	case s.redirectURI != body.RedirectURI:
		p.writeAPIError(w, http.StatusBadRequest, "Bad Request", "redirect_uri mismatch")
		return
	case s.challenge != "" && oauth2.S256ChallengeFromVerifier(body.CodeVerifier) != s.challenge:
		p.writeAPIError(w, http.StatusBadRequest, "Bad Request", "PKCE verification failed")
		return
	}
	delete(p.connectSessions, body.AuthSession)
	p.connected[s.connection] = true
	p.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":          p.nextID("cac"),
		"connection":  s.connection,
		"access_type": "offline",
		"scopes":      s.scopes,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	})
}

func audienceContains(aud interface{}, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []interface{}:
		for _, a := range v {
			if s, ok := a.(string); ok && s == want {
				return true
			}
		}
	case []string:
		return strutils.StrListContains(v, want)
	}
	return false
}
