// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package caa

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrUnsupportedKind  = errors.New("unsupported step kind")

	// ErrMissingSubjectToken is returned when the subject has no token for the
	// chain's subject source.
	ErrMissingSubjectToken = errors.New("missing subject token")

	// ErrInvalidIDJAG is returned when an ID-JAG fails the client side checks.
	ErrInvalidIDJAG = errors.New("invalid ID-JAG")

	ErrUnexpectedTokenType = errors.New("unexpected issued token type")
	ErrMissingCredential   = errors.New("missing credential")
	ErrMissingClaim        = errors.New("missing claim")
	ErrNoToken             = errors.New("no token to apply")
)

// Auth0 token vault error codes meaning the user has no usable connected
// account.
const (
	errFederatedNotFound = "federated_connection_refresh_token_not_found"
	errFederatedExpired  = "federated_connection_refresh_token_expired"
)

// ConnectionRequiredError is returned by a federated-connection step when the
// user must connect (or reconnect) their account for Connection.
// SubjectToken is the token the step was given, which authorizes the connect
// flow.
type ConnectionRequiredError struct {
	Connection   string
	Scopes       []string
	SubjectToken Token
	Err          error
}

// Error implements the error interface.
func (e *ConnectionRequiredError) Error() string {
	return fmt.Sprintf("connection %q required: %v", e.Connection, e.Err)
}

// Unwrap returns the token endpoint error.
func (e *ConnectionRequiredError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from a resource API.
type APIError struct {
	URL        string
	StatusCode int
	Body       interface{}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("resource api %s returned status %d", e.URL, e.StatusCode)
}
