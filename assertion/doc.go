// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package assertion signs JWTs for use with RFC 7523: client_assertion
// requests (A.K.A. private_key_jwt) and jwt-bearer authorization grants whose
// subject is a user instead of the client.
//
// Example usage:
//
//	a, err := assertion.New("client-id", []string{"https://org.okta.com/oauth2/v1/token"},
//		assertion.WithRSAKey(rsaPrivateKey, assertion.RS256),
//		assertion.WithKeyID("key-1"),
//	)
//	jwtString, err := a.Serialize()
//
// See: https://www.rfc-editor.org/rfc/rfc7523.html
package assertion
