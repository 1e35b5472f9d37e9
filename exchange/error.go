// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrUnexpectedStatus is returned for a non-2xx response that isn't an
	// OAuth error.
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrInvalidResponse is returned for a 2xx response missing what the grant
	// requires.
	ErrInvalidResponse = errors.New("invalid token response")

	ErrClientAuth = errors.New("client authentication failed")
)

// Error is an OAuth 2.0 error response, see RFC 6749 section 5.2.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	StatusCode  int    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("oauth error %q (status %d): %s", e.Code, e.StatusCode, e.Description)
	case e.URI != "":
		return fmt.Sprintf("oauth error %q (status %d): see %s", e.Code, e.StatusCode, e.URI)
	default:
		return fmt.Sprintf("oauth error %q (status %d)", e.Code, e.StatusCode)
	}
}

// parseError returns nil when body isn't an OAuth error.
func parseError(status int, body []byte) *Error {
	var e Error
	if err := json.Unmarshal(body, &e); err != nil || e.Code == "" {
		return nil
	}
	e.StatusCode = status
	return &e
}
