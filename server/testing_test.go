// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/publicsuffix"

	"github.com/caademo/caa/assertion"
	"github.com/caademo/caa/caa"
	"github.com/caademo/caa/connect"
	"github.com/caademo/caa/exchange"
	"github.com/caademo/caa/jwt"
	"github.com/caademo/caa/oidc"
	"github.com/caademo/caa/resource"
	"github.com/caademo/caa/session"
)

// testApp is the demo app wired to a TestProvider, with mock resource APIs.
type testApp struct {
	tp       *oidc.TestProvider
	srv      *httptest.Server
	app      *Server
	registry *prometheus.Registry
}

func startTestApp(t *testing.T, opt ...Option) *testApp {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	tp.SetAllowedRedirectURIs(srv.URL + "/callback")

	cfg, err := oidc.NewConfig(tp.Issuer(), oidc.TestClientID, oidc.TestClientSecret,
		[]jwt.Alg{jwt.RS256}, srv.URL+"/callback", oidc.WithProviderCA(tp.CACert()), oidc.WithScopes("profile", "email"))
	require.NoError(err)
	p, err := oidc.NewProvider(cfg)
	require.NoError(err)
	t.Cleanup(p.Done)

	store, err := session.NewStore(bytes.Repeat([]byte("h"), 32), bytes.Repeat([]byte("b"), 32))
	require.NoError(err)

	reg := prometheus.NewRegistry()
	metrics, err := caa.NewMetrics(reg)
	require.NoError(err)

	apis := startTestAPIs(t, tp)
	ex, err := exchange.NewClient(tp.TokenURL(),
		exchange.ClientSecretBasic{ID: oidc.TestClientID, Secret: oidc.TestClientSecret},
		exchange.WithHTTPClient(tp.HTTPClient()),
	)
	require.NoError(err)
	step := func(kind caa.Kind, opt ...caa.Option) caa.Step {
		s, err := caa.NewStep(kind, ex, opt...)
		require.NoError(err)
		return s
	}
	chain := func(name string, source caa.SubjectSource, steps ...caa.Step) *caa.Chain {
		c, err := caa.NewChain(name, source, steps, caa.WithMetrics(metrics))
		require.NoError(err)
		return c
	}
	resources := []Resource{
		{
			Name:        "hr",
			DisplayName: "HR",
			Chain: chain("hr", caa.SubjectIDToken,
				step(caa.KindIDJAG, caa.WithAudience(tp.Issuer()), caa.WithResource("api://hr"), caa.WithScopes("employees.read")),
				step(caa.KindJWTBearer),
			),
			API: caa.API{URL: apis.URL + "/hr/employees"},
		},
		{
			Name:  "kpi",
			Chain: chain("kpi", caa.SubjectAccessToken, step(caa.KindServiceAccount)),
			API:   caa.API{URL: apis.URL + "/kpi/metrics"},
		},
		{
			Name: "github",
			Chain: chain("github", caa.SubjectIDToken,
				step(caa.KindIDJAG, caa.WithAudience(tp.Issuer()), caa.WithResource(tp.MyAccountURL())),
				step(caa.KindJWTBearer),
				step(caa.KindFederatedConnection, caa.WithConnection("github"), caa.WithScopes("repo")),
			),
			API: caa.API{URL: apis.URL + "/github/user"},
		},
	}

	cc, err := connect.NewClient(tp.MyAccountURL(), connect.WithHTTPClient(tp.HTTPClient()))
	require.NoError(err)
	jwks, err := assertion.PublicJWKS(oidc.TestGenerateRSAKey(t), "app-key-1", assertion.RS256)
	require.NoError(err)

	opt = append([]Option{WithConnectClient(cc), WithRegistry(reg), WithJWKS(jwks)}, opt...)
	app, err := New(srv.URL, p, store, resources, opt...)
	require.NoError(err)
	handler = app.Handler()
	return &testApp{tp: tp, srv: srv, app: app, registry: reg}
}

// startTestAPIs serves the mock resource APIs plus a stand in for the
// third party API reached through the federated connection.
func startTestAPIs(t *testing.T, tp *oidc.TestProvider) *httptest.Server {
	t.Helper()
	ks, err := jwt.NewJSONWebKeySet(tp.JWKSURL(), jwt.WithHTTPClient(tp.HTTPClient()))
	require.NoError(t, err)
	hr, err := jwt.NewValidator(ks, jwt.Expected{Issuer: tp.Issuer(), Audiences: []string{"api://hr"}, RequiredScopes: []string{"employees.read"}})
	require.NoError(t, err)
	rs, err := resource.NewServer([]resource.API{
		{Name: "hr", Path: "/hr/employees", Validator: hr, Data: resource.HREmployees()},
		{Name: "kpi", Path: "/kpi/metrics", Username: "svc-reporting", Password: "svc-password", Data: resource.KPIMetrics()},
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/", rs.Handler())
	mux.HandleFunc("/github/user", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer fed_github") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"login":"alice-example"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// browser returns a client that keeps cookies and follows redirects.
func (a *testApp) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	require.NoError(t, err)
	c := a.tp.HTTPClient()
	c.Jar = jar
	return c
}

// login signs in through the provider and returns the signed-in browser.
func (a *testApp) login(t *testing.T) *http.Client {
	t.Helper()
	require := require.New(t)
	c := a.browser(t)
	resp, err := c.Get(a.srv.URL + "/login")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
	var index map[string]interface{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&index))
	require.Equal(true, index["signed_in"])
	return c
}

func testNoRedirect(c *http.Client) *http.Client {
	nr := *c
	nr.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &nr
}

func testDecode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}
