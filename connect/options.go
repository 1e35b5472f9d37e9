// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package connect

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

type clientOptions struct {
	withHTTPClient *http.Client
	withLogger     hclog.Logger
	withNowFunc    func() time.Time
}

func clientDefaults() clientOptions {
	return clientOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides the http client.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && c != nil {
			o.withHTTPClient = c
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides the clock used to compute Pending.Expiry.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}
