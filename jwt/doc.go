// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package jwt validates access tokens presented to resource APIs and decodes
tokens for display.

A KeySet resolves the public key used to check a token's signature.
JSONWebKeySet fetches a remote JWKS and caches it for a TTL; StaticKeySet uses
PEM encoded public keys.

A Validator checks the signature, the signing algorithm, exp/nbf/iat and the
expected issuer, audiences and scopes.

Decode returns a token's header and claims without any verification.
*/
package jwt
