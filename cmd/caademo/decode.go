// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caademo/caa/jwt"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <jwt>",
		Short: "Print a JWT's header and claims without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := jwt.Decode(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
}
