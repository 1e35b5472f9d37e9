// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/caademo/caa/internal/strutils"
	sdkhttp "github.com/caademo/caa/sdk/http"
)

// Client makes token requests to one token endpoint as one client.
type Client struct {
	tokenURL string
	auth     ClientAuth
	client   *http.Client
	logger   hclog.Logger
	nowFunc  func() time.Time
}

// NewClient creates a Client for the token endpoint at tokenURL.
//
// Supported options:
//   - WithHTTPClient
//   - WithLogger
//   - WithNow
func NewClient(tokenURL string, auth ClientAuth, opt ...Option) (*Client, error) {
	const op = "exchange.NewClient"
	if tokenURL == "" {
		return nil, fmt.Errorf("%s: token URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(tokenURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%s: token URL %q is not an http(s) URL: %w", op, tokenURL, ErrInvalidParameter)
	}
	if auth == nil {
		return nil, fmt.Errorf("%s: client auth is nil: %w", op, ErrNilParameter)
	}
	if auth.ClientID() == "" {
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getClientOpts(opt...)
	c := &Client{
		tokenURL: tokenURL,
		auth:     auth,
		client:   opts.withHTTPClient,
		logger:   opts.withLogger,
		nowFunc:  opts.withNowFunc,
	}
	if c.client == nil {
		if c.client, err = sdkhttp.NewClient(""); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return c, nil
}

// TokenURL returns the client's token endpoint.
func (c *Client) TokenURL() string { return c.tokenURL }

// ClientID returns the id the client authenticates as.
func (c *Client) ClientID() string { return c.auth.ClientID() }

// TokenExchangeRequest is an RFC 8693 token exchange request.
type TokenExchangeRequest struct {
	// GrantType defaults to GrantTypeTokenExchange.
	GrantType string

	SubjectToken     string
	SubjectTokenType string

	// RequestedTokenType is optional.
	RequestedTokenType string

	Audience string
	Resource string
	Scopes   []string

	ActorToken     string
	ActorTokenType string

	// Extra parameters, e.g. Auth0's "connection".
	Extra url.Values
}

// String redacts the tokens.
func (r TokenExchangeRequest) String() string {
	actor := "<none>"
	if r.ActorToken != "" {
		actor = redactedPlaceholder
	}
	return fmt.Sprintf("TokenExchangeRequest{GrantType: %s, SubjectTokenType: %s, RequestedTokenType: %s, Audience: %s, Resource: %s, Scopes: %v, SubjectToken: %s, ActorToken: %s}",
		r.GrantType, r.SubjectTokenType, r.RequestedTokenType, r.Audience, r.Resource, r.Scopes, redact(r.SubjectToken), actor)
}

func (r *TokenExchangeRequest) form() (url.Values, error) {
	const op = "TokenExchangeRequest.form"
	switch {
	case r.SubjectToken == "":
		return nil, fmt.Errorf("%s: subject_token is required: %w", op, ErrInvalidParameter)
	case r.SubjectTokenType == "":
		return nil, fmt.Errorf("%s: subject_token_type is required: %w", op, ErrInvalidParameter)
	case r.ActorToken != "" && r.ActorTokenType == "":
		return nil, fmt.Errorf("%s: actor_token_type is required with an actor_token: %w", op, ErrInvalidParameter)
	}
	data := url.Values{}
	for k, v := range r.Extra {
		data[k] = append([]string(nil), v...)
	}
	grant := r.GrantType
	if grant == "" {
		grant = GrantTypeTokenExchange
	}
	data.Set("grant_type", grant)
	data.Set("subject_token", r.SubjectToken)
	data.Set("subject_token_type", r.SubjectTokenType)
	if r.RequestedTokenType != "" {
		data.Set("requested_token_type", r.RequestedTokenType)
	}
	if r.Audience != "" {
		data.Set("audience", r.Audience)
	}
	if r.Resource != "" {
		data.Set("resource", r.Resource)
	}
	if len(r.Scopes) > 0 {
		data.Set("scope", strutils.JoinScopes(r.Scopes))
	}
	if r.ActorToken != "" {
		data.Set("actor_token", r.ActorToken)
		data.Set("actor_token_type", r.ActorTokenType)
	}
	return data, nil
}

// TokenExchange performs an RFC 8693 token exchange.  The response carries
// either an access_token or a Credential, and always an issued_token_type.
func (c *Client) TokenExchange(ctx context.Context, r *TokenExchangeRequest) (*Response, error) {
	const op = "Client.TokenExchange"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	form, err := r.form()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.do(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.AccessToken == "" && resp.Credential == nil {
		return nil, fmt.Errorf("%s: response has no access_token: %w", op, ErrInvalidResponse)
	}
	if resp.IssuedTokenType == "" {
		return nil, fmt.Errorf("%s: response has no issued_token_type: %w", op, ErrInvalidResponse)
	}
	return resp, nil
}

// JWTBearer performs an RFC 7523 jwt-bearer grant with the assertion.
func (c *Client) JWTBearer(ctx context.Context, assertion string, scopes ...string) (*Response, error) {
	const op = "Client.JWTBearer"
	if assertion == "" {
		return nil, fmt.Errorf("%s: assertion is empty: %w", op, ErrInvalidParameter)
	}
	form := url.Values{}
	form.Set("grant_type", GrantTypeJWTBearer)
	form.Set("assertion", assertion)
	if len(scopes) > 0 {
		form.Set("scope", strutils.JoinScopes(scopes))
	}
	resp, err := c.do(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%s: response has no access_token: %w", op, ErrInvalidResponse)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, form url.Values) (*Response, error) {
	const op = "Client.do"
	grant := form.Get("grant_type")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	if err := c.auth.Authenticate(req, form, c.tokenURL); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	encoded := form.Encode()
	req.Body = io.NopCloser(strings.NewReader(encoded))
	req.ContentLength = int64(len(encoded))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Length", strconv.Itoa(len(encoded)))
	req.Header.Set("Accept", "application/json")

	start := c.now()
	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: token request failed: %w", op, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response: %w", op, err)
	}
	c.logger.Debug("token request", "token_url", c.tokenURL, "grant_type", grant,
		"requested_token_type", form.Get("requested_token_type"), "status", httpResp.StatusCode,
		"duration", c.now().Sub(start))

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		if oauthErr := parseError(httpResp.StatusCode, body); oauthErr != nil {
			return nil, fmt.Errorf("%s: %w", op, oauthErr)
		}
		return nil, fmt.Errorf("%s: %w %d from %s", op, ErrUnexpectedStatus, httpResp.StatusCode, c.tokenURL)
	}
	resp, err := parseResponse(body, c.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

func (c *Client) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}
