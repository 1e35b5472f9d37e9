// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package exchange is a client for an OAuth 2.0 token endpoint, speaking the
grants cross app access is built from: RFC 8693 token exchange (including
Okta's ID-JAG, vaulted-secret and service-account token types, and Auth0's
federated connection exchange) and the RFC 7523 jwt-bearer grant.

Clients authenticate with ClientSecretBasic, ClientSecretPost, PrivateKeyJWT
or None.  OAuth error responses are returned as *Error:

	resp, err := c.TokenExchange(ctx, &exchange.TokenExchangeRequest{...})
	var oauthErr *exchange.Error
	if errors.As(err, &oauthErr) && oauthErr.Code == "invalid_grant" {
		...
	}
*/
package exchange
