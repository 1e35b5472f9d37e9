// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import "errors"

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrIDGeneratorFailed          = errors.New("id generation failed")
	ErrExpiredRequest             = errors.New("request is expired")
	ErrInvalidResponseState       = errors.New("invalid response state")
	ErrMissingIDToken             = errors.New("id_token is missing")
	ErrIDTokenVerificationFailed  = errors.New("id_token verification failed")
	ErrInvalidAudience            = errors.New("invalid audience")
	ErrInvalidNonce               = errors.New("invalid nonce")
	ErrExchangeFailed             = errors.New("code exchange failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrNotFound                   = errors.New("not found")
	ErrUserInfoFailed             = errors.New("user info failed")
)
