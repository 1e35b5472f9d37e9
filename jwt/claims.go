// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Claims are the decoded claims of a token.
type Claims map[string]interface{}

// String returns the named claim when it's a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Subject returns the "sub" claim.
func (c Claims) Subject() string { return c.String("sub") }

// Issuer returns the "iss" claim.
func (c Claims) Issuer() string { return c.String("iss") }

// Audience returns the "aud" claim, which may be a single string or an array.
func (c Claims) Audience() []string {
	aud, err := gojwt.MapClaims(c).GetAudience()
	if err != nil {
		return nil
	}
	return aud
}

// Expiry returns the "exp" claim, or the zero time when it's missing.
func (c Claims) Expiry() time.Time {
	exp, err := gojwt.MapClaims(c).GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Scopes returns the granted scopes.  Okta puts them in "scp" as an array,
// other issuers use a space separated "scope" string.
func (c Claims) Scopes() []string {
	var scopes []string
	switch scp := c["scp"].(type) {
	case []interface{}:
		for _, s := range scp {
			if s, ok := s.(string); ok {
				scopes = append(scopes, s)
			}
		}
	case []string:
		scopes = append(scopes, scp...)
	case string:
		scopes = append(scopes, strings.Fields(scp)...)
	}
	if s, ok := c["scope"].(string); ok {
		scopes = append(scopes, strings.Fields(s)...)
	}
	return scopes
}
