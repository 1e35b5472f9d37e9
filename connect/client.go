// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	sdkhttp "github.com/caademo/caa/sdk/http"
)

const maxResponseBodySize = 1 << 20

// Client calls the My Account API at baseURL, e.g.
// https://acme.us.auth0.com/me/v1
type Client struct {
	baseURL string
	client  *http.Client
	logger  hclog.Logger
	nowFunc func() time.Time
}

// NewClient creates a Client.
//
// Supported options:
//   - WithHTTPClient
//   - WithLogger
//   - WithNow
func NewClient(baseURL string, opt ...Option) (*Client, error) {
	const op = "connect.NewClient"
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%s: base URL %q is not an http(s) URL: %w", op, baseURL, ErrInvalidParameter)
	}
	opts := getClientOpts(opt...)
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  opts.withHTTPClient,
		logger:  opts.withLogger,
		nowFunc: opts.withNowFunc,
	}
	if c.client == nil {
		if c.client, err = sdkhttp.NewClient(""); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return c, nil
}

// StartRequest starts connecting an account.
type StartRequest struct {
	Connection    string   `json:"connection"`
	RedirectURI   string   `json:"redirect_uri"`
	State         string   `json:"state,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	CodeChallenge string   `json:"code_challenge,omitempty"`

	// CodeChallengeMethod is always S256 when CodeChallenge is set.
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// Pending is a started connect flow the browser must be sent through.
type Pending struct {
	AuthSession string
	ConnectURI  string
	Ticket      string
	ExpiresIn   int
	Expiry      time.Time
}

// URL returns the connect URI with the ticket, where the browser goes next.
func (p *Pending) URL() (string, error) {
	const op = "Pending.URL"
	u, err := url.Parse(p.ConnectURI)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	q := u.Query()
	q.Set("ticket", p.Ticket)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start begins connecting an account for the user of accessToken.
func (c *Client) Start(ctx context.Context, accessToken string, r StartRequest) (*Pending, error) {
	const op = "Client.Start"
	switch {
	case accessToken == "":
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	case r.Connection == "":
		return nil, fmt.Errorf("%s: connection is empty: %w", op, ErrInvalidParameter)
	case r.RedirectURI == "":
		return nil, fmt.Errorf("%s: redirect URI is empty: %w", op, ErrInvalidParameter)
	}
	if r.CodeChallenge != "" {
		r.CodeChallengeMethod = "S256"
	}
	var out struct {
		AuthSession   string            `json:"auth_session"`
		ConnectURI    string            `json:"connect_uri"`
		ConnectParams map[string]string `json:"connect_params"`
		ExpiresIn     int               `json:"expires_in"`
	}
	if err := c.post(ctx, "/connected-accounts/connect", accessToken, r, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case out.AuthSession == "" || out.ConnectURI == "":
		return nil, fmt.Errorf("%s: missing auth_session or connect_uri: %w", op, ErrInvalidResponse)
	case out.ConnectParams["ticket"] == "":
		return nil, fmt.Errorf("%s: missing connect_params.ticket: %w", op, ErrInvalidResponse)
	}
	p := &Pending{
		AuthSession: out.AuthSession,
		ConnectURI:  out.ConnectURI,
		Ticket:      out.ConnectParams["ticket"],
		ExpiresIn:   out.ExpiresIn,
	}
	if p.ExpiresIn > 0 {
		p.Expiry = c.now().Add(time.Duration(p.ExpiresIn) * time.Second)
	}
	c.logger.Debug("connect started", "connection", r.Connection, "expires_in", p.ExpiresIn)
	return p, nil
}

// CompleteRequest finishes connecting an account.
type CompleteRequest struct {
	AuthSession  string `json:"auth_session"`
	ConnectCode  string `json:"connect_code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier,omitempty"`
}

// Account is a connected account.
type Account struct {
	ID         string   `json:"id"`
	Connection string   `json:"connection"`
	AccessType string   `json:"access_type"`
	Scopes     []string `json:"scopes"`
	CreatedAt  string   `json:"created_at"`
	ExpiresAt  string   `json:"expires_at,omitempty"`
}

// Complete finishes connecting the account for the user of accessToken.
func (c *Client) Complete(ctx context.Context, accessToken string, r CompleteRequest) (*Account, error) {
	const op = "Client.Complete"
	switch {
	case accessToken == "":
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	case r.AuthSession == "":
		return nil, fmt.Errorf("%s: auth session is empty: %w", op, ErrInvalidParameter)
	case r.ConnectCode == "":
		return nil, fmt.Errorf("%s: connect code is empty: %w", op, ErrInvalidParameter)
	}
	var a Account
	if err := c.post(ctx, "/connected-accounts/complete", accessToken, r, &a); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if a.Connection == "" {
		return nil, fmt.Errorf("%s: missing connection: %w", op, ErrInvalidResponse)
	}
	c.logger.Debug("connect complete", "connection", a.Connection, "id", a.ID)
	return &a, nil
}

func (c *Client) post(ctx context.Context, path, accessToken string, in, out interface{}) error {
	const op = "Client.post"
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request to %s failed: %w", op, endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if apiErr := parseAPIError(resp.StatusCode, body); apiErr != nil {
			return fmt.Errorf("%s: %w", op, apiErr)
		}
		return fmt.Errorf("%s: %w %d from %s", op, ErrUnexpectedStatus, resp.StatusCode, endpoint)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidResponse, err)
	}
	return nil
}

func (c *Client) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}
