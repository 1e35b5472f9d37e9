// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/caademo/caa/internal/strutils"
	sdkhttp "github.com/caademo/caa/sdk/http"
)

// Provider provides integration with an OIDC provider using the authorization
// code flow with PKCE.
type Provider struct {
	config   *Config
	provider *oidc.Provider
	client   *http.Client
	logger   hclog.Logger

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like: refreshing JWKs key sets.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider.  Initializing the provider
// includes making an http request to the provider's issuer for discovery.
//
// See Provider.Done() which must be called to release provider resources.
//
// Supported options:
//   - WithLogger
func NewProvider(c *Config, opt ...Option) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getProviderOpts(opt...)

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with its background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		logger:              opts.withLogger,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := c.HTTPClient()
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	p.client = client

	provider, err := oidc.NewProvider(sdkhttp.ClientContext(p.backgroundCtx, client), c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	p.provider = provider
	p.logger.Debug("discovered provider", "issuer", c.Issuer, "token_url", provider.Endpoint().TokenURL)
	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Issuer returns the configured issuer.
func (p *Provider) Issuer() string { return p.config.Issuer }

// RedirectURL returns the configured callback URL.
func (p *Provider) RedirectURL() string { return p.config.RedirectURL }

// ClientID returns the configured client id.
func (p *Provider) ClientID() string { return p.config.ClientID }

// TokenURL returns the discovered token endpoint.
func (p *Provider) TokenURL() string { return p.provider.Endpoint().TokenURL }

// HTTPClient returns the client the provider uses, configured with the
// provider CA.
func (p *Provider) HTTPClient() *http.Client { return p.client }

func (p *Provider) oauth2Config(r *Request) *oauth2.Config {
	// Add the "openid" scope, which is a required scope for oidc flows
	scopes := []string{oidc.ScopeOpenID}
	for _, s := range append(append([]string{}, p.config.Scopes...), r.Scopes()...) {
		if !strutils.StrListContains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	endpoint := p.provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInHeader
	if p.config.ClientSecret == "" {
		// public client: client_id is sent in the body
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  r.RedirectURL(),
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with PKCE.
func (p *Provider) AuthURL(_ context.Context, r *Request) (string, error) {
	const op = "Provider.AuthURL"
	if r == nil {
		return "", fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if r.State() == r.Nonce() {
		return "", fmt.Errorf("%s: request state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	if r.PKCEVerifier() == nil {
		return "", fmt.Errorf("%s: request has no code verifier: %w", op, ErrInvalidParameter)
	}
	return p.oauth2Config(r).AuthCodeURL(r.State(),
		oidc.Nonce(r.Nonce()),
		oauth2.S256ChallengeOption(r.PKCEVerifier().Verifier()),
	), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorizationCode and authorizationState it received in an earlier
// successful oidc authentication response.
//
// It will also validate the authorizationState it receives against the
// existing Request for the user's oidc login.
//
// On success, the Token returned will include a verified IDToken and an
// AccessToken.
func (p *Provider) Exchange(ctx context.Context, r *Request, authorizationState string, authorizationCode string) (*Token, error) {
	const op = "Provider.Exchange"
	switch {
	case r == nil:
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	case r.State() != authorizationState:
		return nil, fmt.Errorf("%s: authentication request state and authorization state are not equal: %w", op, ErrInvalidResponseState)
	case r.IsExpired():
		return nil, fmt.Errorf("%s: authentication request is expired: %w", op, ErrExpiredRequest)
	case authorizationCode == "":
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}

	oidcCtx := sdkhttp.ClientContext(ctx, p.client)
	oauth2Token, err := p.oauth2Config(r).Exchange(oidcCtx, authorizationCode, oauth2.VerifierOption(r.PKCEVerifier().Verifier()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w: %w", op, ErrExchangeFailed, err)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	if err := p.VerifyIDToken(ctx, IDToken(idToken), r.Nonce(), r.Audiences()...); err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	t, err := NewToken(IDToken(idToken), oauth2Token)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create new id_token: %w", op, err)
	}
	p.logger.Debug("login exchange complete", "issuer", p.config.Issuer)
	return t, nil
}

// VerifyIDToken will verify the inbound IDToken.  It verifies it's been signed
// by the provider, it validates the nonce, and performs any additional checks
// depending on the provider's config and the extra audiences (one of
// them must be in "aud").
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, nonce string, audiences ...string) error {
	const op = "Provider.VerifyIDToken"
	if t == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if nonce == "" {
		return fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	verifier := p.provider.Verifier(&oidc.Config{
		SupportedSigningAlgs: algs,
		ClientID:             p.config.ClientID,
	})

	oidcIDToken, err := verifier.Verify(sdkhttp.ClientContext(ctx, p.client), string(t))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrIDTokenVerificationFailed, err)
	}
	if oidcIDToken.Nonce != nonce {
		return fmt.Errorf("%s: invalid id_token nonce: %w", op, ErrInvalidNonce)
	}

	auds := append(append([]string{}, p.config.Audiences...), audiences...)
	if len(auds) > 0 {
		found := false
		for _, v := range auds {
			if strutils.StrListContains(oidcIDToken.Audience, v) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: invalid id_token audiences: %w", op, ErrInvalidAudience)
		}
	}
	return nil
}

// UserInfo gets the UserInfo claims from the provider using the access token.
func (p *Provider) UserInfo(ctx context.Context, accessToken AccessToken) (map[string]interface{}, error) {
	const op = "Provider.UserInfo"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(accessToken)})
	userinfo, err := p.provider.UserInfo(sdkhttp.ClientContext(ctx, p.client), ts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUserInfoFailed, err)
	}
	claims := map[string]interface{}{}
	if err := userinfo.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: failed to get UserInfo claims: %w: %w", op, ErrUserInfoFailed, err)
	}
	return claims, nil
}

// EndSessionURL returns the provider's RP initiated logout URL.  It returns
// ErrNotFound when discovery didn't advertise an end_session_endpoint.
func (p *Provider) EndSessionURL(idTokenHint IDToken, postLogoutRedirectURL string) (string, error) {
	const op = "Provider.EndSessionURL"
	var claims struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := p.provider.Claims(&claims); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if claims.EndSessionEndpoint == "" {
		return "", fmt.Errorf("%s: end_session_endpoint: %w", op, ErrNotFound)
	}
	u, err := url.Parse(claims.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("%s: invalid end_session_endpoint: %w", op, err)
	}
	q := u.Query()
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	if postLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// providerOptions is the set of available options for Provider functions
type providerOptions struct {
	withLogger hclog.Logger
}

func providerDefaults() providerOptions {
	return providerOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
