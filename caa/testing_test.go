// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package caa

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caademo/caa/exchange"
	"github.com/caademo/caa/oidc"
)

func testExchangeClient(t *testing.T, tp *oidc.TestProvider) *exchange.Client {
	t.Helper()
	c, err := exchange.NewClient(tp.TokenURL(),
		exchange.ClientSecretBasic{ID: oidc.TestClientID, Secret: oidc.TestClientSecret},
		exchange.WithHTTPClient(tp.HTTPClient()),
	)
	require.NoError(t, err)
	return c
}

func testStep(t *testing.T, kind Kind, c *exchange.Client, opt ...Option) Step {
	t.Helper()
	s, err := NewStep(kind, c, opt...)
	require.NoError(t, err)
	return s
}

func testSubject(tp *oidc.TestProvider) Subject {
	return Subject{
		IDToken:     tp.IDToken(oidc.TestClientID, "nonce"),
		AccessToken: tp.AccessToken(""),
	}
}

// testTokenEndpoint serves a fixed token response.
func testTokenEndpoint(t *testing.T, status int, body string) *exchange.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c, err := exchange.NewClient(srv.URL, exchange.None{ID: "test"})
	require.NoError(t, err)
	return c
}
