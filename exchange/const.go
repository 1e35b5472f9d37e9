// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package exchange

// Grant types.
const (
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	GrantTypeJWTBearer     = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// GrantTypeFederatedConnection is Auth0's token vault exchange of an Auth0
	// access token for a third party's access token.
	GrantTypeFederatedConnection = "urn:auth0:params:oauth:grant-type:token-exchange:federated-connection-access-token"
)

// Token types.
const (
	TokenTypeIDToken     = "urn:ietf:params:oauth:token-type:id_token"
	TokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"
	TokenTypeJWT         = "urn:ietf:params:oauth:token-type:jwt"
	TokenTypeIDJAG       = "urn:ietf:params:oauth:token-type:id-jag"

	TokenTypeVaultedSecret  = "urn:okta:params:oauth:token-type:vaulted-secret"
	TokenTypeServiceAccount = "urn:okta:params:oauth:token-type:service-account"

	TokenTypeFederatedConnection = "http://auth0.com/oauth/token-type/federated-connection-access-token"
)

// IDJAGType is the JWT "typ" header of an ID-JAG.
const IDJAGType = "oauth-id-jag+jwt"

const (
	// maxResponseBodySize is the most read from a token endpoint (1 MiB)
	maxResponseBodySize = 1 << 20

	redactedPlaceholder = "[REDACTED]"
	emptyPlaceholder    = "<empty>"
)
