// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package resource

import (
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
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

type serverOptions struct {
	withLogger   hclog.Logger
	withRegistry *prometheus.Registry
}

func serverDefaults() serverOptions {
	return serverOptions{
		withLogger: hclog.NewNullLogger(),
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

// WithRegistry provides the prometheus registry the server's metrics are
// registered with and served from.  By default the server has its own.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && r != nil {
			o.withRegistry = r
		}
	}
}
