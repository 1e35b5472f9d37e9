// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package id makes random one-time values: oauth state, oidc nonce and the
// state of a pending connected-account flow.
package id

import (
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/base62"
)

// Len is the number of random base62 characters in an id. A prefix and its
// "_" separator come on top.
const Len = 20

// New returns Len random base62 characters, as "<prefix>_<random>" when
// prefix is set.
func New(prefix string) (string, error) {
	const op = "id.New"
	v, err := base62.Random(Len)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if prefix == "" {
		return v, nil
	}
	return prefix + "_" + v, nil
}
