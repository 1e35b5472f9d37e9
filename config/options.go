// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/caademo/caa/caa"
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

type buildOptions struct {
	withHTTPClient *http.Client
	withLogger     hclog.Logger
	withMetrics    *caa.Metrics
	withRegistry   *prometheus.Registry
}

func buildDefaults() buildOptions {
	return buildOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getBuildOpts(opt ...Option) buildOptions {
	opts := buildDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient replaces the client built from okta.ca_pem for every
// outbound request.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*buildOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*buildOptions); ok {
			o.withLogger = l
		}
	}
}

// WithMetrics records the built chains' steps.
func WithMetrics(m *caa.Metrics) Option {
	return func(o interface{}) {
		if o, ok := o.(*buildOptions); ok {
			o.withMetrics = m
		}
	}
}

// WithRegistry is the registry of a built resource server.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o interface{}) {
		if o, ok := o.(*buildOptions); ok {
			o.withRegistry = r
		}
	}
}
