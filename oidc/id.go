// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/caademo/caa/sdk/id"
)

// NewID generates an ID with an optional prefix.  The ID generated is
// suitable for a request's state or nonce.
func NewID(optionalPrefix string) (string, error) {
	const op = "NewID"
	v, err := id.New(optionalPrefix)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIDGeneratorFailed, err)
	}
	return v, nil
}
