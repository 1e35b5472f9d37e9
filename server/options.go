// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/caademo/caa/caa"
	"github.com/caademo/caa/connect"
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
	// DefaultLoginTimeout is how long a user has to finish signing in.
	DefaultLoginTimeout = 5 * time.Minute

	// DefaultConnectTimeout bounds a connected accounts flow when the My
	// Account API doesn't say how long it has.
	DefaultConnectTimeout = 10 * time.Minute
)

type serverOptions struct {
	withLogger         hclog.Logger
	withRegistry       *prometheus.Registry
	withLoginTimeout   time.Duration
	withConnectTimeout time.Duration
	withConnectClient  *connect.Client
	withCaller         *caa.Caller
	withJWKS           *jose.JSONWebKeySet
	withNowFunc        func() time.Time
}

func serverDefaults() serverOptions {
	return serverOptions{
		withLogger:         hclog.NewNullLogger(),
		withLoginTimeout:   DefaultLoginTimeout,
		withConnectTimeout: DefaultConnectTimeout,
	}
}

func getServerOpts(opt ...Option) serverOptions {
	opts := serverDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithRegistry provides the prometheus registry served at /metrics.  Chain
// metrics should be registered with the same registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && r != nil {
			o.withRegistry = r
		}
	}
}

// WithLoginTimeout sets how long a user has to finish signing in.
func WithLoginTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && d > 0 {
			o.withLoginTimeout = d
		}
	}
}

// WithConnectTimeout sets the fallback lifetime of a connected accounts flow.
func WithConnectTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && d > 0 {
			o.withConnectTimeout = d
		}
	}
}

// WithConnectClient enables the connected accounts flow.
func WithConnectClient(c *connect.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && c != nil {
			o.withConnectClient = c
		}
	}
}

// WithCaller provides the caller resource APIs are invoked with.
func WithCaller(c *caa.Caller) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && c != nil {
			o.withCaller = c
		}
	}
}

// WithJWKS provides the public keys published at /.well-known/jwks.json,
// which authorization servers verify the app's signed JWTs with.
func WithJWKS(set *jose.JSONWebKeySet) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && set != nil {
			o.withJWKS = set
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok {
			o.withNowFunc = now
		}
	}
}
