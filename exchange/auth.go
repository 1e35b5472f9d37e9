// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package exchange

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/caademo/caa/assertion"
)

// ClientAuth authenticates a client to the token endpoint.  Authenticate is
// called for every token request and may add to the form or the request
// headers.
type ClientAuth interface {
	ClientID() string
	Authenticate(req *http.Request, form url.Values, tokenURL string) error
}

// ClientSecretBasic sends the client credentials with HTTP Basic
// authentication (RFC 6749 section 2.3.1).
type ClientSecretBasic struct {
	ID     string
	Secret string
}

var _ ClientAuth = ClientSecretBasic{}

// ClientID returns the client id.
func (a ClientSecretBasic) ClientID() string { return a.ID }

// Authenticate implements ClientAuth.
func (a ClientSecretBasic) Authenticate(req *http.Request, _ url.Values, _ string) error {
	// credentials are form-encoded before basic auth, per RFC 6749 2.3.1
	req.SetBasicAuth(url.QueryEscape(a.ID), url.QueryEscape(a.Secret))
	return nil
}

// String redacts the secret.
func (a ClientSecretBasic) String() string {
	return fmt.Sprintf("ClientSecretBasic{ID: %s, Secret: %s}", a.ID, redact(a.Secret))
}

// ClientSecretPost sends the client credentials in the request body.
type ClientSecretPost struct {
	ID     string
	Secret string
}

var _ ClientAuth = ClientSecretPost{}

// ClientID returns the client id.
func (a ClientSecretPost) ClientID() string { return a.ID }

// Authenticate implements ClientAuth.
func (a ClientSecretPost) Authenticate(_ *http.Request, form url.Values, _ string) error {
	form.Set("client_id", a.ID)
	form.Set("client_secret", a.Secret)
	return nil
}

// String redacts the secret.
func (a ClientSecretPost) String() string {
	return fmt.Sprintf("ClientSecretPost{ID: %s, Secret: %s}", a.ID, redact(a.Secret))
}

// PrivateKeyJWT authenticates with a client assertion signed by the client's
// private key (RFC 7523 section 2.2).  The assertion's audience is the token
// endpoint.
type PrivateKeyJWT struct {
	ID     string
	Key    *rsa.PrivateKey
	KeyID  string
	Alg    assertion.RSAlgorithm
	Expiry time.Duration
}

var _ ClientAuth = PrivateKeyJWT{}

// ClientID returns the client id.
func (a PrivateKeyJWT) ClientID() string { return a.ID }

// Authenticate implements ClientAuth.
func (a PrivateKeyJWT) Authenticate(_ *http.Request, form url.Values, tokenURL string) error {
	const op = "PrivateKeyJWT.Authenticate"
	alg := a.Alg
	if alg == "" {
		alg = assertion.RS256
	}
	opts := []assertion.Option{assertion.WithRSAKey(a.Key, alg)}
	if a.KeyID != "" {
		opts = append(opts, assertion.WithKeyID(a.KeyID))
	}
	if a.Expiry > 0 {
		opts = append(opts, assertion.WithLifetime(a.Expiry))
	}
	j, err := assertion.New(a.ID, []string{tokenURL}, opts...)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrClientAuth, err)
	}
	signed, err := j.Serialize()
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrClientAuth, err)
	}
	form.Set("client_id", a.ID)
	form.Set("client_assertion_type", assertion.JWTTypeParam)
	form.Set("client_assertion", signed)
	return nil
}

// String omits the key.
func (a PrivateKeyJWT) String() string {
	return fmt.Sprintf("PrivateKeyJWT{ID: %s, KeyID: %s}", a.ID, a.KeyID)
}

// None is a public client, identified by client_id alone.
type None struct {
	ID string
}

var _ ClientAuth = None{}

// ClientID returns the client id.
func (a None) ClientID() string { return a.ID }

// Authenticate implements ClientAuth.
func (a None) Authenticate(_ *http.Request, form url.Values, _ string) error {
	form.Set("client_id", a.ID)
	return nil
}

func redact(s string) string {
	if s == "" {
		return emptyPlaceholder
	}
	return redactedPlaceholder
}
