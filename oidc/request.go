// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultRequestSkew is the skew applied when checking a Request's expiration.
const DefaultRequestSkew = 1 * time.Second

// Request represents one user login attempt: the state, nonce and PKCE
// verifier the callback is checked against.  A Request is held by the
// browser session between AuthURL and Exchange, so it round trips through
// JSON, including its verifier.
type Request struct {
	state       string
	nonce       string
	expiration  time.Time
	redirectURL string
	scopes      []string
	audiences   []string
	verifier    CodeVerifier

	nowFunc func() time.Time
}

// NewRequest creates a new Request.
//
//	expireIn: how long the user has to complete the login.
//	redirectURL: the callback URL registered with the provider.
//
// The state and nonce are generated and are never equal.  Every Request
// uses PKCE with the S256 method.
//
// Supported options:
//   - WithNow
//   - WithScopes
//   - WithAudiences
//   - WithPKCE
func NewRequest(expireIn time.Duration, redirectURL string, opt ...Option) (*Request, error) {
	const op = "oidc.NewRequest"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn must be greater than zero: %w", op, ErrInvalidParameter)
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getReqOpts(opt...)

	state, err := NewID("st")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	nonce, err := NewID("n")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	verifier := opts.withVerifier
	if verifier == nil {
		if verifier, err = NewCodeVerifier(); err != nil {
			return nil, fmt.Errorf("%s: unable to generate code verifier: %w", op, err)
		}
	}
	r := &Request{
		state:       state,
		nonce:       nonce,
		redirectURL: redirectURL,
		scopes:      opts.withScopes,
		audiences:   opts.withAudiences,
		verifier:    verifier.Copy(),
		nowFunc:     opts.withNowFunc,
	}
	r.expiration = r.now().Add(expireIn)
	return r, nil
}

// State is the request's state, sent to the provider and echoed back.
func (r *Request) State() string { return r.state }

// Nonce is the request's nonce, checked against the id_token's nonce claim.
func (r *Request) Nonce() string { return r.nonce }

// RedirectURL is the URL the provider redirects to after login.
func (r *Request) RedirectURL() string { return r.redirectURL }

// Scopes are the request's additional scopes.
func (r *Request) Scopes() []string { return r.scopes }

// Audiences are the request's additional id_token audiences.
func (r *Request) Audiences() []string { return r.audiences }

// PKCEVerifier is the request's code verifier.
func (r *Request) PKCEVerifier() CodeVerifier { return r.verifier }

// Expiration is when the request expires.
func (r *Request) Expiration() time.Time { return r.expiration }

// IsExpired returns true if the request has expired.
func (r *Request) IsExpired() bool {
	return r.expiration.Before(r.now().Add(DefaultRequestSkew))
}

func (r *Request) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now() // fallback to this default
}

type requestJSON struct {
	State       string    `json:"state"`
	Nonce       string    `json:"nonce"`
	Expiration  time.Time `json:"expiration"`
	RedirectURL string    `json:"redirect_url"`
	Scopes      []string  `json:"scopes,omitempty"`
	Audiences   []string  `json:"audiences,omitempty"`
	Verifier    string    `json:"code_verifier"`
}

// MarshalJSON encodes the request for storage in a session.  The code
// verifier is included.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestJSON{
		State:       r.state,
		Nonce:       r.nonce,
		Expiration:  r.expiration,
		RedirectURL: r.redirectURL,
		Scopes:      r.scopes,
		Audiences:   r.audiences,
		Verifier:    r.verifier.Verifier(),
	})
}

// UnmarshalJSON decodes a request encoded with MarshalJSON.
func (r *Request) UnmarshalJSON(data []byte) error {
	const op = "Request.UnmarshalJSON"
	var j requestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if j.State == "" || j.Nonce == "" {
		return fmt.Errorf("%s: missing state or nonce: %w", op, ErrInvalidParameter)
	}
	v, err := NewCodeVerifierFrom(j.Verifier)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	*r = Request{
		state:       j.State,
		nonce:       j.Nonce,
		expiration:  j.Expiration,
		redirectURL: j.RedirectURL,
		scopes:      j.Scopes,
		audiences:   j.Audiences,
		verifier:    v,
	}
	return nil
}

// reqOptions is the set of available options for Request functions
type reqOptions struct {
	withNowFunc   func() time.Time
	withScopes    []string
	withAudiences []string
	withVerifier  CodeVerifier
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{}
}

// getReqOpts gets the request defaults and applies the opt overrides passed in
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPKCE provides a specific code verifier for the Request, instead of a
// generated one.
func WithPKCE(v CodeVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok && v != nil {
			o.withVerifier = v
		}
	}
}
