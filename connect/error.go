// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package connect

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidResponse  = errors.New("invalid response")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// APIError is a My Account API problem response.
type APIError struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	StatusCode int    `json:"status"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("my account api: %s (status %d): %s", e.Title, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("my account api: %s (status %d)", e.Title, e.StatusCode)
}

func parseAPIError(status int, body []byte) *APIError {
	var e APIError
	if err := json.Unmarshal(body, &e); err != nil || (e.Title == "" && e.Type == "") {
		return nil
	}
	e.StatusCode = status
	return &e
}
