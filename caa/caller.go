// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package caa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"

	sdkhttp "github.com/caademo/caa/sdk/http"
)

const maxAPIBodySize = 1 << 20

// API is a resource's API endpoint.
type API struct {
	URL string

	// Method defaults to GET.
	Method string

	// Body is sent as JSON with POST, PUT and PATCH.
	Body interface{}
}

// APIResponse is a 2xx response from a resource API.  Body is the decoded
// JSON, or the text when the response isn't JSON.
type APIResponse struct {
	StatusCode int
	Body       interface{}
}

// Caller invokes resource APIs with the tokens chains produce.
type Caller struct {
	client *http.Client
	logger hclog.Logger
}

// NewCaller creates a Caller.
//
// Supported options:
//   - WithHTTPClient
//   - WithLogger
func NewCaller(opt ...Option) (*Caller, error) {
	const op = "caa.NewCaller"
	opts := getCallerOpts(opt...)
	c := &Caller{client: opts.withHTTPClient, logger: opts.withLogger}
	if c.client == nil {
		var err error
		if c.client, err = sdkhttp.NewClient(""); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return c, nil
}

// Call invokes api with tok.  A non-2xx response is returned as *APIError.
func (c *Caller) Call(ctx context.Context, api API, tok Token) (*APIResponse, error) {
	const op = "Caller.Call"
	if api.URL == "" {
		return nil, fmt.Errorf("%s: api URL is empty: %w", op, ErrInvalidParameter)
	}
	method := strings.ToUpper(api.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if api.Body != nil && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) {
		b, err := json.Marshal(api.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to encode body: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, api.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if err := tok.Apply(req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request to %s failed: %w", op, api.URL, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response: %w", op, err)
	}
	c.logger.Debug("resource api called", "method", method, "url", api.URL, "status", resp.StatusCode)

	decoded := decodeBody(raw)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{URL: api.URL, StatusCode: resp.StatusCode, Body: decoded}
	}
	return &APIResponse{StatusCode: resp.StatusCode, Body: decoded}, nil
}

func decodeBody(raw []byte) interface{} {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
