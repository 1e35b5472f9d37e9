// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package server

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
)

// error codes of JSON error replies
const (
	codeUnauthenticated    = "unauthenticated"
	codeNotFound           = "not_found"
	codeLoginFailed        = "login_failed"
	codeConnectionRequired = "connection_required"
	codeExchangeFailed     = "exchange_failed"
	codeAPIFailed          = "api_failed"
	codeConnectFailed      = "connect_failed"
	codeInvalidState       = "invalid_state"
	codeInternal           = "internal_error"
	codeSessionTooLarge    = "session_too_large"
)
