// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"fmt"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Decoded is a token's header and claims, read without verification.
type Decoded struct {
	Header map[string]interface{} `json:"header"`
	Claims Claims                 `json:"claims"`
}

// Type returns the "typ" header.
func (d *Decoded) Type() string {
	typ, _ := d.Header["typ"].(string)
	return typ
}

// Decode parses a JWT without checking its signature or claims.  It must
// only be used to display tokens or to read claims of a token the caller
// obtained directly from a trusted endpoint.
func Decode(token string) (*Decoded, error) {
	const op = "Decode"
	if strings.Count(token, ".") != 2 {
		return nil, fmt.Errorf("%s: %w: not a compact JWS", op, ErrMalformed)
	}
	claims := gojwt.MapClaims{}
	t, _, err := gojwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformed, err)
	}
	return &Decoded{Header: t.Header, Claims: Claims(claims)}, nil
}
