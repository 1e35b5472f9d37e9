// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package assertion

import (
	"crypto/rsa"
	"fmt"
)

// HSAlgorithm signs with a shared client secret.
type HSAlgorithm string

// RSAlgorithm signs with an RSA private key.
type RSAlgorithm string

// See: https://tools.ietf.org/html/rfc7518#section-3.1
const (
	HS256 HSAlgorithm = "HS256"
	HS384 HSAlgorithm = "HS384"
	HS512 HSAlgorithm = "HS512"

	RS256 RSAlgorithm = "RS256"
	RS384 RSAlgorithm = "RS384"
	RS512 RSAlgorithm = "RS512"
)

// MinRSAKeyBits is the smallest modulus Okta accepts for private_key_jwt and
// authorization grant keys.
const MinRSAKeyBits = 2048

// minSecretLen is the shortest secret allowed per HMAC alg: the hash size.
var minSecretLen = map[HSAlgorithm]int{
	HS256: 32,
	HS384: 48,
	HS512: 64,
}

// Validate returns ErrUnsupportedAlgorithm for an unknown alg and
// ErrInvalidSecretLength when the secret is shorter than the alg's hash.
func (a HSAlgorithm) Validate(secret string) error {
	const op = "HSAlgorithm.Validate"
	n, ok := minSecretLen[a]
	switch {
	case !ok:
		return fmt.Errorf("%s: %w %q for client secret", op, ErrUnsupportedAlgorithm, a)
	case secret == "":
		return fmt.Errorf("%s: secret is empty: %w", op, ErrInvalidSecretLength)
	case len(secret) < n:
		return fmt.Errorf("%s: %s needs at least %d bytes, got %d: %w", op, a, n, len(secret), ErrInvalidSecretLength)
	}
	return nil
}

// Validate checks the alg is an RS alg and the key is usable: it passes
// rsa.PrivateKey.Validate and is at least MinRSAKeyBits.
func (a RSAlgorithm) Validate(key *rsa.PrivateKey) error {
	const op = "RSAlgorithm.Validate"
	switch a {
	case RS256, RS384, RS512:
	default:
		return fmt.Errorf("%s: %w %q for RSA key", op, ErrUnsupportedAlgorithm, a)
	}
	if key == nil {
		return fmt.Errorf("%s: %w", op, ErrNilPrivateKey)
	}
	if err := key.Validate(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidPrivateKey, err)
	}
	if bits := key.N.BitLen(); bits < MinRSAKeyBits {
		return fmt.Errorf("%s: %d bit key, need %d: %w", op, bits, MinRSAKeyBits, ErrInvalidPrivateKey)
	}
	return nil
}
