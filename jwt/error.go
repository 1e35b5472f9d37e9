// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrUnsupportedAlg    = errors.New("unsupported signing algorithm")
	ErrMalformed         = errors.New("malformed token")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrKeyNotFound       = errors.New("verification key not found")
	ErrEmptyKeySet       = errors.New("key set is empty")
	ErrKeySetFetch       = errors.New("unable to fetch key set")
	ErrExpired           = errors.New("token is expired")
	ErrNotYetValid       = errors.New("token is not valid yet")
	ErrMissingExpiry     = errors.New("token has no exp claim")
	ErrInvalidIssuer     = errors.New("invalid issuer")
	ErrInvalidAudience   = errors.New("invalid audience")
	ErrInsufficientScope = errors.New("insufficient scope")
)
