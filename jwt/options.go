// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

const (
	// DefaultCacheTTL is how long a fetched JWKS is trusted before it's
	// fetched again.
	DefaultCacheTTL = 10 * time.Minute

	// DefaultMinRefreshInterval limits how often an unknown kid can force a
	// JWKS refetch.
	DefaultMinRefreshInterval = 30 * time.Second
)

type keySetOptions struct {
	withHTTPClient         *http.Client
	withCacheTTL           time.Duration
	withMinRefreshInterval time.Duration
	withLogger             hclog.Logger
	withNow                func() time.Time
}

func keySetDefaults() keySetOptions {
	return keySetOptions{
		withCacheTTL:           DefaultCacheTTL,
		withMinRefreshInterval: DefaultMinRefreshInterval,
		withLogger:             hclog.NewNullLogger(),
		withNow:                time.Now,
	}
}

func getKeySetOpts(opt ...Option) keySetOptions {
	opts := keySetDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type validatorOptions struct {
	withLogger hclog.Logger
}

func validatorDefaults() validatorOptions {
	return validatorOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getValidatorOpts(opt ...Option) validatorOptions {
	opts := validatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides the http client used to fetch a JWKS.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok && d > 0 {
			o.withCacheTTL = d
		}
	}
}

// WithMinRefreshInterval overrides DefaultMinRefreshInterval.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withMinRefreshInterval = d
		}
	}
}

// WithLogger provides an optional logger for a key set or a validator.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *keySetOptions:
			v.withLogger = l
		case *validatorOptions:
			v.withLogger = l
		}
	}
}

// withNow is for tests.
func withNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withNow = now
		}
	}
}
