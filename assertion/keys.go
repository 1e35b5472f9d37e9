// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package assertion

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// ParseRSAPrivateKeyPEM parses a PKCS#1 or PKCS#8 PEM encoded RSA private key.
func ParseRSAPrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	const op = "ParseRSAPrivateKeyPEM"
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: %w: no PEM block", op, ErrInvalidPrivateKey)
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidPrivateKey, err)
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %T is not an RSA key", op, ErrInvalidPrivateKey, k)
	}
	return rsaKey, nil
}

// PublicJWKS returns the JWKS an authorization server needs to verify JWTs
// signed with the key.
func PublicJWKS(key *rsa.PrivateKey, keyID string, alg RSAlgorithm) (*jose.JSONWebKeySet, error) {
	const op = "PublicJWKS"
	if key == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNilPrivateKey)
	}
	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       key.Public(),
			KeyID:     keyID,
			Algorithm: string(alg),
			Use:       "sig",
		}},
	}, nil
}
