// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package server is the cross app access demo application.

A user signs in with Okta (authorization code flow with PKCE); their
id_token and access token are kept in an encrypted session cookie.  Each
configured resource has a caa.Chain which exchanges those tokens, step by
step, for a token or credential its API accepts.  POST
/api/resources/{name}/access runs the chain, calls the API and returns the
trace of every step with the API's answer.

When a chain's federated connection step finds the user has no connected
account, the answer is a 409 naming a connect_url.  /connect/{name} starts
the connected accounts flow with Auth0's My Account API and
/connect/callback completes it.
*/
package server
