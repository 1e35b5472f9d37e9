// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/caademo/caa/config"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

type rootFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "caademo",
		Short: "Okta Cross-App Access demo",
		Long: `caademo signs users in with Okta and reaches resource APIs through chains of
token exchanges: ID token to ID-JAG to access token, JWT bearer grants,
vaulted secrets, service accounts and Auth0 federated connections.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides log.level")
	cmd.PersistentFlags().BoolVar(&f.logJSON, "log-json", false, "log as JSON; overrides log.json")

	cmd.AddCommand(
		newServeCmd(f),
		newResourcesCmd(f),
		newDecodeCmd(),
		newAssertionCmd(f),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration.  Validation is left to each command since
// they need different sections.
func (f *rootFlags) load() (*config.Config, error) {
	return config.Load(f.configPath)
}

func (f *rootFlags) logger(c *config.Config, out io.Writer) hclog.Logger {
	level := c.Log.Level
	if f.logLevel != "" {
		level = f.logLevel
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "caademo",
		Level:      hclog.LevelFromString(level),
		JSONFormat: c.Log.JSON || f.logJSON,
		Output:     out,
	})
}

// serve runs h on addr until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, logger hclog.Logger, addr string, h http.Handler) error {
	const op = "serve"
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", op, err)
	}
	return nil
}
