// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/caademo/caa/caa"
	"github.com/caademo/caa/config"
	"github.com/caademo/caa/oidc"
	"github.com/caademo/caa/server"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the demo app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := f.load()
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			logger := f.logger(c, cmd.ErrOrStderr())

			oc, err := c.OIDCConfig()
			if err != nil {
				return err
			}
			p, err := oidc.NewProvider(oc, oidc.WithLogger(logger.Named("oidc")))
			if err != nil {
				return err
			}
			defer p.Done()

			store, err := c.BuildSessionStore(config.WithLogger(logger.Named("session")))
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics, err := caa.NewMetrics(reg)
			if err != nil {
				return err
			}

			client, err := c.HTTPClient()
			if err != nil {
				return err
			}
			resources, err := c.BuildChains(
				config.WithHTTPClient(client),
				config.WithLogger(logger),
				config.WithMetrics(metrics),
			)
			if err != nil {
				return err
			}
			caller, err := caa.NewCaller(caa.WithHTTPClient(client), caa.WithLogger(logger.Named("caller")))
			if err != nil {
				return err
			}

			opts := []server.Option{
				server.WithLogger(logger.Named("server")),
				server.WithRegistry(reg),
				server.WithCaller(caller),
			}
			if c.Server.LoginTimeout > 0 {
				opts = append(opts, server.WithLoginTimeout(c.Server.LoginTimeout))
			}
			if c.Server.ConnectTimeout > 0 {
				opts = append(opts, server.WithConnectTimeout(c.Server.ConnectTimeout))
			}
			cc, err := c.BuildConnectClient(config.WithHTTPClient(client), config.WithLogger(logger.Named("connect")))
			if err != nil {
				return err
			}
			if cc != nil {
				opts = append(opts, server.WithConnectClient(cc))
			}
			jwks, err := c.BuildJWKS()
			if err != nil {
				return err
			}
			if jwks != nil {
				opts = append(opts, server.WithJWKS(jwks))
			}

			srv, err := server.New(c.Server.BaseURL, p, store, resources, opts...)
			if err != nil {
				return err
			}
			logger.Info("demo app configured", "base_url", c.Server.BaseURL, "resources", len(resources), "connected_accounts", cc != nil)
			return serve(cmd.Context(), logger, c.Server.Listen, srv.Handler())
		},
	}
}
