// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

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

// DefaultMaxAge is how long the session cookies live.
const DefaultMaxAge = 8 * time.Hour

type storeOptions struct {
	withSecure   bool
	withPrefix   string
	withPath     string
	withMaxAge   time.Duration
	withSameSite http.SameSite
	withLogger   hclog.Logger
	withNowFunc  func() time.Time
}

func storeDefaults() storeOptions {
	return storeOptions{
		withPrefix:   "caa",
		withPath:     "/",
		withMaxAge:   DefaultMaxAge,
		withSameSite: http.SameSiteLaxMode,
		withLogger:   hclog.NewNullLogger(),
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSecure marks the cookies Secure, which browsers only send over https.
func WithSecure(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withSecure = secure
		}
	}
}

// WithCookiePrefix sets the prefix of the cookie names (default "caa").
func WithCookiePrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && prefix != "" {
			o.withPrefix = prefix
		}
	}
}

// WithPath sets the cookie path (default "/").
func WithPath(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && p != "" {
			o.withPath = p
		}
	}
}

// WithMaxAge sets the cookie lifetime.
func WithMaxAge(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && d > 0 {
			o.withMaxAge = d
		}
	}
}

// WithSameSite sets the cookies' SameSite mode (default Lax, which the
// provider's redirect back to the callback needs).
func WithSameSite(s http.SameSite) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withSameSite = s
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withNowFunc = now
		}
	}
}
