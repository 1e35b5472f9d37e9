// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package caa runs cross app access chains: the user's ID token (or access
token) is carried through a sequence of token endpoint grants until it
becomes a token, or a credential, the resource's API accepts.

A typical chain is two steps:

	id-jag      Okta org token endpoint: id_token -> ID-JAG for the resource's
	            authorization server
	jwt-bearer  resource authorization server: ID-JAG -> access token

Every step is traced.  A federated-connection step that finds no connected
account returns a *ConnectionRequiredError so the caller can start the
connect flow.
*/
package caa
