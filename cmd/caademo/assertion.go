// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/caademo/caa/assertion"
)

type assertionFlags struct {
	clientID string
	audience string
	keyFile  string
	keyID    string
	subject  string
	lifetime time.Duration
}

// newAssertionCmd prints a client assertion, e.g. to try private_key_jwt
// against a token endpoint with curl.  Flags default to the Okta app.
func newAssertionCmd(f *rootFlags) *cobra.Command {
	af := &assertionFlags{}
	cmd := &cobra.Command{
		Use:   "assertion",
		Short: "Print a signed client assertion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			const op = "assertion"
			c, err := f.load()
			if err != nil {
				return err
			}
			if af.clientID == "" {
				af.clientID = c.Okta.ClientID
			}
			if af.keyFile == "" {
				af.keyFile = c.Okta.PrivateKeyFile
			}
			if af.keyID == "" {
				af.keyID = c.Okta.KeyID
			}
			if af.audience == "" && c.Okta.Issuer != "" {
				af.audience = c.Okta.TokenURL()
			}
			switch {
			case af.clientID == "":
				return fmt.Errorf("%s: --client-id or okta.client_id is required", op)
			case af.keyFile == "":
				return fmt.Errorf("%s: --key-file or okta.private_key_file is required", op)
			case af.audience == "":
				return fmt.Errorf("%s: --audience or okta.issuer is required", op)
			}

			data, err := os.ReadFile(af.keyFile)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			key, err := assertion.ParseRSAPrivateKeyPEM(data)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			opts := []assertion.Option{assertion.WithRSAKey(key, assertion.RS256), assertion.WithLifetime(af.lifetime)}
			if af.keyID != "" {
				opts = append(opts, assertion.WithKeyID(af.keyID))
			}
			if af.subject != "" {
				opts = append(opts, assertion.WithSubject(af.subject))
			}
			j, err := assertion.New(af.clientID, []string{af.audience}, opts...)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			signed, err := j.Serialize()
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}
	cmd.Flags().StringVar(&af.clientID, "client-id", "", "issuer of the assertion")
	cmd.Flags().StringVar(&af.audience, "audience", "", "token endpoint the assertion is for")
	cmd.Flags().StringVar(&af.keyFile, "key-file", "", "PEM encoded RSA private key")
	cmd.Flags().StringVar(&af.keyID, "kid", "", "key id header")
	cmd.Flags().StringVar(&af.subject, "subject", "", "subject, defaults to the client id")
	cmd.Flags().DurationVar(&af.lifetime, "lifetime", assertion.DefaultLifetime, "how long the assertion is valid")
	return cmd
}
