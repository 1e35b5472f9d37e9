// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package assertion

import "errors"

// Errors returned by New and Serialize.
var (
	ErrMissingIssuer    = errors.New("assertion has no issuer")
	ErrMissingAudience  = errors.New("assertion has no audience")
	ErrMissingAlgorithm = errors.New("no signing algorithm set")
	ErrInvalidLifetime  = errors.New("lifetime must be positive")
	ErrReservedClaim    = errors.New("claim is set by the assertion itself")

	ErrMissingKeyOrSecret = errors.New("neither a private key nor a client secret was set")
	ErrBothKeyAndSecret   = errors.New("a private key and a client secret were both set")

	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrInvalidSecretLength  = errors.New("client secret too short for algorithm")
	ErrNilPrivateKey        = errors.New("private key is nil")
	ErrInvalidPrivateKey    = errors.New("invalid private key")
	ErrCreatingSigner       = errors.New("unable to create signer")

	// only seen when a JWT is built without New
	ErrMissingFuncIDGenerator = errors.New("jwt has no id generator")
	ErrMissingFuncNow         = errors.New("jwt has no clock")
)
