// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"

	"github.com/caademo/caa/jwt"
)

// IDToken is an oidc id_token.
// See https://openid.net/specs/openid-connect-core-1_0.html#IDToken.
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token.
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token.
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// Claims returns the id_token's claims without verifying it.  Only use it on
// an id_token returned by Provider.Exchange or Provider.VerifyIDToken.
func (t IDToken) Claims() (jwt.Claims, error) {
	const op = "IDToken.Claims"
	if len(t) == 0 {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	d, err := jwt.Decode(string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d.Claims, nil
}
