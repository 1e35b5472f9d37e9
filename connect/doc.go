// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package connect is a client for the connected accounts endpoints of Auth0's
My Account API, which repair a federated connection the token vault has no
refresh token for.

The flow: Start with the user's My Account access token and a PKCE
challenge, redirect the browser to Pending.URL(), and on the callback
Complete with the connect_code and the PKCE verifier.
*/
package connect
