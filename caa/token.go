// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package caa

import (
	"fmt"
	"net/http"
	"time"

	"github.com/caademo/caa/exchange"
	"github.com/caademo/caa/jwt"
)

// Subject is what the logged in user brings to a chain.
type Subject struct {
	IDToken     string
	AccessToken string
	Claims      jwt.Claims
}

// SubjectSource selects which of the Subject's tokens starts a chain.
type SubjectSource string

const (
	SubjectIDToken     SubjectSource = "id_token"
	SubjectAccessToken SubjectSource = "access_token"
)

// Token is the output of a step: a token of some type, or a credential.
type Token struct {
	Value      string
	Type       string
	Expiry     time.Time
	Credential *exchange.Credential
	Extra      map[string]interface{}
}

// token returns the subject token selected by src.
func (s Subject) token(src SubjectSource) (Token, error) {
	const op = "Subject.token"
	switch src {
	case SubjectIDToken, "":
		if s.IDToken == "" {
			return Token{}, fmt.Errorf("%s: id_token: %w", op, ErrMissingSubjectToken)
		}
		return Token{Value: s.IDToken, Type: exchange.TokenTypeIDToken}, nil
	case SubjectAccessToken:
		if s.AccessToken == "" {
			return Token{}, fmt.Errorf("%s: access_token: %w", op, ErrMissingSubjectToken)
		}
		return Token{Value: s.AccessToken, Type: exchange.TokenTypeAccessToken}, nil
	default:
		return Token{}, fmt.Errorf("%s: unknown subject source %q: %w", op, src, ErrInvalidParameter)
	}
}

// Apply sets the request's Authorization header: Basic for a credential,
// Bearer otherwise.
func (t Token) Apply(req *http.Request) error {
	const op = "Token.Apply"
	switch {
	case t.Credential != nil:
		req.SetBasicAuth(t.Credential.Username, t.Credential.Password)
	case t.Value != "":
		req.Header.Set("Authorization", "Bearer "+t.Value)
	default:
		return fmt.Errorf("%s: %w", op, ErrNoToken)
	}
	return nil
}

// String redacts the token.
func (t Token) String() string {
	v := "[REDACTED]"
	if t.Value == "" {
		v = "<empty>"
	}
	return fmt.Sprintf("Token{Type: %s, Value: %s, Credential: %v}", t.Type, v, t.Credential)
}
