// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/caademo/caa/internal/strutils"
)

// DefaultLeeway is the clock skew allowed when checking exp, nbf and iat.
const DefaultLeeway = 30 * time.Second

// Expected defines the expected claims and signing algorithms of a token.
type Expected struct {
	// Issuer must equal the "iss" claim when set.
	Issuer string

	// Audiences must contain at least one of the "aud" values when set.
	Audiences []string

	// Algorithms are the allowed signing algorithms.  DefaultSigningAlgorithms
	// is used when empty.
	Algorithms []Alg

	// RequiredScopes must all be granted by the token.
	RequiredScopes []string

	// Leeway is the clock skew allowed for time based claims.  A negative
	// value disables the leeway; zero uses DefaultLeeway.
	Leeway time.Duration

	// Now, when set, replaces time.Now for time based claims.
	Now func() time.Time
}

// Validator validates JWTs against a KeySet and Expected claims.
type Validator struct {
	keySet   KeySet
	expected Expected
	algs     []string
	logger   hclog.Logger
}

// NewValidator returns a Validator that uses the given KeySet to verify
// signatures.
//
// Supported options:
//   - WithLogger
func NewValidator(ks KeySet, expected Expected, opt ...Option) (*Validator, error) {
	const op = "NewValidator"
	if ks == nil {
		return nil, fmt.Errorf("%s: missing key set: %w", op, ErrInvalidParameter)
	}
	if len(expected.Algorithms) == 0 {
		expected.Algorithms = DefaultSigningAlgorithms
	}
	if err := SupportedSigningAlgorithm(expected.Algorithms...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case expected.Leeway == 0:
		expected.Leeway = DefaultLeeway
	case expected.Leeway < 0:
		expected.Leeway = 0
	}
	if expected.Now == nil {
		expected.Now = time.Now
	}
	algs := make([]string, 0, len(expected.Algorithms))
	for _, a := range expected.Algorithms {
		algs = append(algs, string(a))
	}
	opts := getValidatorOpts(opt...)
	return &Validator{
		keySet:   ks,
		expected: expected,
		algs:     algs,
		logger:   opts.withLogger,
	}, nil
}

// Validate verifies the token's signature and claims and returns its claims.
func (v *Validator) Validate(ctx context.Context, token string) (Claims, error) {
	const op = "Validator.Validate"
	if token == "" {
		return nil, fmt.Errorf("%s: missing token: %w", op, ErrInvalidParameter)
	}

	unverified, _, err := gojwt.NewParser().ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformed, err)
	}
	alg, _ := unverified.Header["alg"].(string)
	if !strutils.StrListContains(v.algs, alg) {
		return nil, fmt.Errorf("%s: %w: %q not allowed", op, ErrUnsupportedAlg, alg)
	}
	kid, _ := unverified.Header["kid"].(string)

	keys, err := v.keySet.VerificationKeys(ctx, kid, Alg(alg))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := v.verify(token, keys)
	if err != nil {
		v.logger.Debug("token rejected", "kid", kid, "alg", alg, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if v.expected.Issuer != "" && claims.Issuer() != v.expected.Issuer {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidIssuer, claims.Issuer())
	}
	if len(v.expected.Audiences) > 0 {
		aud := claims.Audience()
		found := false
		for _, a := range v.expected.Audiences {
			if strutils.StrListContains(aud, a) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidAudience, aud)
		}
	}
	if len(v.expected.RequiredScopes) > 0 && !strutils.StrListContainsAll(claims.Scopes(), v.expected.RequiredScopes) {
		return nil, fmt.Errorf("%s: %w: requires %q", op, ErrInsufficientScope, v.expected.RequiredScopes)
	}
	return claims, nil
}

// verify tries each candidate key until one verifies the signature.  Claim
// time checks only run once a signature is good.
func (v *Validator) verify(token string, keys []crypto.PublicKey) (Claims, error) {
	parser := gojwt.NewParser(
		gojwt.WithValidMethods(v.algs),
		gojwt.WithExpirationRequired(),
		gojwt.WithIssuedAt(),
		gojwt.WithLeeway(v.expected.Leeway),
		gojwt.WithTimeFunc(v.expected.Now),
	)
	var lastErr error
	for _, key := range keys {
		claims := gojwt.MapClaims{}
		_, err := parser.ParseWithClaims(token, claims, func(*gojwt.Token) (interface{}, error) {
			return key, nil
		})
		if err == nil {
			return Claims(claims), nil
		}
		if errors.Is(err, gojwt.ErrTokenSignatureInvalid) {
			lastErr = err
			continue
		}
		return nil, mapErr(err)
	}
	return nil, mapErr(lastErr)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gojwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, gojwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	case errors.Is(err, gojwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, gojwt.ErrTokenNotValidYet), errors.Is(err, gojwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %w", ErrNotYetValid, err)
	case errors.Is(err, gojwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %w", ErrMissingExpiry, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}
