// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package resource

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrUnknownDataset   = errors.New("unknown dataset")
)
