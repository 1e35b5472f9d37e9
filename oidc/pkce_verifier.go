// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"golang.org/x/oauth2"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the only challenge method supported.  The plain method
	// isn't, since it leaks the verifier to anyone who sees the auth URL.
	//
	// See: https://tools.ietf.org/html/rfc7636#section-4.3
	S256 ChallengeMethod = "S256"
)

// verifierLen is the length of a verifier from oauth2.GenerateVerifier: 32
// random octets, base64url encoded.
const verifierLen = 43

// CodeVerifier represents an OAuth PKCE code verifier.
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
type CodeVerifier interface {
	// Verifier returns the code verifier (see:
	// https://tools.ietf.org/html/rfc7636#section-4.1)
	Verifier() string

	// Challenge returns the code verifier's code challenge (see:
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Challenge() string

	// Method returns the code verifier's challenge method (see
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Method() ChallengeMethod

	// Copy returns a copy of the verifier
	Copy() CodeVerifier
}

// S256Verifier is an oauth PKCE code verifier using the S256 challenge
// method.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new CodeVerifier (*S256Verifier).
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
func NewCodeVerifier() (*S256Verifier, error) {
	return newS256Verifier(oauth2.GenerateVerifier())
}

// NewCodeVerifierFrom rebuilds a CodeVerifier from a verifier previously
// returned by Verifier(), e.g. one read back from a browser session.
func NewCodeVerifierFrom(verifier string) (*S256Verifier, error) {
	const op = "NewCodeVerifierFrom"
	// RFC 7636 4.1: 43..128 characters
	if len(verifier) < verifierLen || len(verifier) > 128 {
		return nil, fmt.Errorf("%s: verifier length %d: %w", op, len(verifier), ErrInvalidParameter)
	}
	return newS256Verifier(verifier)
}

func newS256Verifier(verifier string) (*S256Verifier, error) {
	v := &S256Verifier{
		verifier: verifier,
		method:   S256,
	}
	c, err := CreateCodeChallenge(S256, v)
	if err != nil {
		return nil, err
	}
	v.challenge = c
	return v, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// Copy returns a copy of the verifier.
func (v *S256Verifier) Copy() CodeVerifier {
	return &S256Verifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// CreateCodeChallenge creates a code challenge from the verifier. Supported
// ChallengeMethods: S256
//
// See: https://tools.ietf.org/html/rfc7636#section-4.2
func CreateCodeChallenge(method ChallengeMethod, v CodeVerifier) (string, error) {
	const op = "CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	switch method {
	case S256:
		return oauth2.S256ChallengeFromVerifier(v.Verifier()), nil
	default:
		return "", fmt.Errorf("%s: %w (%q)", op, ErrUnsupportedChallengeMethod, method)
	}
}
