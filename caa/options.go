// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package caa

import (
	"crypto/rsa"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/caademo/caa/assertion"
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

type stepOptions struct {
	withAudience           string
	withResource           string
	withScopes             []string
	withRequestedTokenType string
	withConnection         string
	withSubjectClaim       string
	withAssertionIssuer    string
	withAssertionAudience  string
	withAssertionKey       *rsa.PrivateKey
	withAssertionKeyID     string
	withAssertionAlg       assertion.RSAlgorithm
	withNowFunc            func() time.Time
}

func stepDefaults() stepOptions {
	return stepOptions{
		withSubjectClaim: "sub",
		withAssertionAlg: assertion.RS256,
	}
}

func getStepOpts(opt ...Option) stepOptions {
	opts := stepDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type chainOptions struct {
	withLogger       hclog.Logger
	withMetrics      *Metrics
	withExposeTokens bool
	withNowFunc      func() time.Time
}

func chainDefaults() chainOptions {
	return chainOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getChainOpts(opt ...Option) chainOptions {
	opts := chainDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type callerOptions struct {
	withHTTPClient *http.Client
	withLogger     hclog.Logger
}

func callerDefaults() callerOptions {
	return callerOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getCallerOpts(opt ...Option) callerOptions {
	opts := callerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAudience sets a step's audience parameter.  For an id-jag step it is
// the issuer of the resource's authorization server and is also checked
// against the ID-JAG's aud.
func WithAudience(aud string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stepOptions); ok {
			o.withAudience = aud
		}
	}
}

// WithResource sets a step's resource parameter.
func WithResource(r string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stepOptions); ok {
			o.withResource = r
		}
	}
}

// WithScopes sets the scopes a step requests.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stepOptions); ok {
			o.withScopes = append(o.withScopes, scopes...)
		}
	}
}

// WithRequestedTokenType sets a token-exchange step's requested_token_type.
func WithRequestedTokenType(t string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stepOptions); ok {
			o.withRequestedTokenType = t
		}
	}
}

// WithConnection sets a federated-connection step's connection.
func WithConnection(c string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stepOptions); ok {
			o.withConnection = c
		}
	}
}

// WithSubjectClaim sets the claim of the incoming token that becomes the
// "sub" of a jwt-bearer-assertion step's grant.  Defaults to "sub".
func WithSubjectClaim(claim string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stepOptions); ok && claim != "" {
			o.withSubjectClaim = claim
		}
	}
}

// WithAssertionKey sets the key that signs a jwt-bearer-assertion step's
// grant.  The grant's issuer is the step client's id and its audience is
// the token endpoint, unless overridden with WithAssertionIssuer or
// WithAssertionAudience.
func WithAssertionKey(key *rsa.PrivateKey, keyID string, alg assertion.RSAlgorithm) Option {
	return func(o interface{}) {
		if o, ok := o.(*stepOptions); ok {
			o.withAssertionKey = key
			o.withAssertionKeyID = keyID
			if alg != "" {
				o.withAssertionAlg = alg
			}
		}
	}
}

// WithAssertionIssuer overrides the grant's issuer.
func WithAssertionIssuer(iss string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stepOptions); ok {
			o.withAssertionIssuer = iss
		}
	}
}

// WithAssertionAudience overrides the grant's audience, e.g.
// https://login.salesforce.com.
func WithAssertionAudience(aud string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stepOptions); ok {
			o.withAssertionAudience = aud
		}
	}
}

// WithNow provides an optional time func.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *stepOptions:
			v.withNowFunc = now
		case *chainOptions:
			v.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *chainOptions:
			v.withLogger = l
		case *callerOptions:
			v.withLogger = l
		}
	}
}

// WithMetrics records step outcomes and durations.
func WithMetrics(m *Metrics) Option {
	return func(o interface{}) {
		if o, ok := o.(*chainOptions); ok {
			o.withMetrics = m
		}
	}
}

// WithExposeTokens includes raw token values in traces.
func WithExposeTokens(expose bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*chainOptions); ok {
			o.withExposeTokens = expose
		}
	}
}

// WithHTTPClient provides the http client a Caller uses.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*callerOptions); ok && c != nil {
			o.withHTTPClient = c
		}
	}
}
