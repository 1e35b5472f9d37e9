// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/caademo/caa/config"
)

func newResourcesCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "Run the mock enterprise resource APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := f.load()
			if err != nil {
				return err
			}
			logger := f.logger(c, cmd.ErrOrStderr())
			rs, err := c.BuildResourceServer(config.WithLogger(logger.Named("resources")))
			if err != nil {
				return err
			}
			logger.Info("resource apis configured", "apis", len(c.ResourceServer.APIs))
			return serve(cmd.Context(), logger, c.ResourceServer.Listen, rs.Handler())
		},
	}
}
