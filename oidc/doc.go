// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is the user login leg of the demo: an OIDC authorization code
flow with PKCE against an Okta org.

The ID token it returns is the subject token of every cross app access chain.

Config, Provider, Request and Token are the primary types.  TestProvider is
an in-process authorization server for tests, able to play Okta, a resource
authorization server and the Auth0 My Account API.
*/
package oidc
