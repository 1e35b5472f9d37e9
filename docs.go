// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// caademo is a demo of Okta Cross-App Access: a user signs in with Okta and
// the app reaches enterprise resource APIs by chaining token exchanges and
// JWT bearer grants, starting from the user's ID token.
//
// Packages:
//   - oidc: user login with the authorization code flow and PKCE
//   - jwt: JWKS caching and access token validation
//   - assertion: signed JWT authorization grants and client assertions
//   - exchange: token endpoint client for RFC 8693 and RFC 7523 grants
//   - caa: steps, chains and calls to resource APIs
//   - connect: Auth0 connected accounts, to repair federated connections
//   - session: browser held state in encrypted cookies
//   - resource: mock resource APIs protected by bearer or basic auth
//   - server: the demo app
//   - config: YAML and environment configuration
//
// See cmd/caademo for the binary.
package caademo
