// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package exchange

import (
	"encoding/json"
	"fmt"
	"time"
)

// Credential is a username and password pair returned in place of a bearer
// token by vaulted-secret and service-account exchanges.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// String redacts the password.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{Username: %s, Password: %s}", c.Username, redact(c.Password))
}

// MarshalJSON redacts the password.
func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{c.Username, redact(c.Password)})
}

// Response is a successful token endpoint response.
type Response struct {
	AccessToken     string
	IssuedTokenType string
	TokenType       string
	ExpiresIn       int
	Expiry          time.Time
	Scope           string
	RefreshToken    string

	// Credential is set for vaulted-secret and service-account exchanges.
	Credential *Credential

	// Extra holds the fields not listed above, e.g. Salesforce's
	// instance_url.
	Extra map[string]interface{}
}

// String redacts the tokens and the credential.
func (r Response) String() string {
	return fmt.Sprintf("Response{AccessToken: %s, IssuedTokenType: %s, TokenType: %s, ExpiresIn: %d, RefreshToken: %s, Credential: %v}",
		redact(r.AccessToken), r.IssuedTokenType, r.TokenType, r.ExpiresIn, redact(r.RefreshToken), r.Credential != nil)
}

var knownFields = map[string]bool{
	"access_token":      true,
	"issued_token_type": true,
	"token_type":        true,
	"expires_in":        true,
	"scope":             true,
	"refresh_token":     true,
	"vaulted_secret":    true,
	"service_account":   true,
	"credential":        true,
}

type rawResponse struct {
	AccessToken     string      `json:"access_token"`
	IssuedTokenType string      `json:"issued_token_type"`
	TokenType       string      `json:"token_type"`
	ExpiresIn       json.Number `json:"expires_in"`
	Scope           string      `json:"scope"`
	RefreshToken    string      `json:"refresh_token"`
	VaultedSecret   *Credential `json:"vaulted_secret"`
	ServiceAccount  *Credential `json:"service_account"`
	Credential      *Credential `json:"credential"`
}

func parseResponse(body []byte, now time.Time) (*Response, error) {
	const op = "exchange.parseResponse"
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidResponse, err)
	}
	r := &Response{
		AccessToken:     raw.AccessToken,
		IssuedTokenType: raw.IssuedTokenType,
		TokenType:       raw.TokenType,
		Scope:           raw.Scope,
		RefreshToken:    raw.RefreshToken,
	}
	if raw.ExpiresIn != "" {
		n, err := raw.ExpiresIn.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s: expires_in %q: %w", op, raw.ExpiresIn, ErrInvalidResponse)
		}
		r.ExpiresIn = int(n)
		if n > 0 {
			r.Expiry = now.Add(time.Duration(n) * time.Second)
		}
	}

	for _, c := range []*Credential{raw.VaultedSecret, raw.ServiceAccount, raw.Credential} {
		if c != nil {
			r.Credential = c
			break
		}
	}
	if r.Credential == nil && isCredentialType(r.IssuedTokenType) {
		// some servers put the credential json in access_token
		var c Credential
		if err := json.Unmarshal([]byte(r.AccessToken), &c); err == nil && c.Username != "" {
			r.Credential = &c
			r.AccessToken = ""
		}
	}

	all := map[string]interface{}{}
	if err := json.Unmarshal(body, &all); err == nil {
		for k, v := range all {
			if knownFields[k] {
				continue
			}
			if r.Extra == nil {
				r.Extra = map[string]interface{}{}
			}
			r.Extra[k] = v
		}
	}
	return r, nil
}

func isCredentialType(t string) bool {
	return t == TokenTypeVaultedSecret || t == TokenTypeServiceAccount
}
