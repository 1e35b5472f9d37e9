// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package caa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/caademo/caa/jwt"
)

// Trace records one step of a chain run.
type Trace struct {
	Step             int        `json:"step"`
	Kind             Kind       `json:"kind"`
	GrantType        string     `json:"grant_type,omitempty"`
	Endpoint         string     `json:"endpoint,omitempty"`
	SubjectTokenType string     `json:"subject_token_type,omitempty"`
	IssuedTokenType  string     `json:"issued_token_type,omitempty"`
	Claims           jwt.Claims `json:"claims,omitempty"`

	// Token is only set when the chain exposes tokens.
	Token string `json:"token,omitempty"`

	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Result is the outcome of a chain run.  Trace has an entry for every step
// that ran, including a failed one.
type Result struct {
	Resource string  `json:"resource"`
	Final    Token   `json:"-"`
	Trace    []Trace `json:"steps"`
}

// Chain is the sequence of steps that turns a Subject into a token for one
// resource.
type Chain struct {
	resource string
	source   SubjectSource
	steps    []Step

	logger       hclog.Logger
	metrics      *Metrics
	exposeTokens bool
	nowFunc      func() time.Time
}

// NewChain creates a Chain for resource starting from the subject's token
// selected by source.  A chain without steps hands the subject token
// straight to the resource.
//
// Supported options:
//   - WithLogger
//   - WithMetrics
//   - WithExposeTokens
//   - WithNow
func NewChain(resource string, source SubjectSource, steps []Step, opt ...Option) (*Chain, error) {
	const op = "caa.NewChain"
	if resource == "" {
		return nil, fmt.Errorf("%s: resource is empty: %w", op, ErrInvalidParameter)
	}
	switch source {
	case SubjectIDToken, SubjectAccessToken:
	case "":
		source = SubjectIDToken
	default:
		return nil, fmt.Errorf("%s: unknown subject source %q: %w", op, source, ErrInvalidParameter)
	}
	for i, s := range steps {
		if s == nil {
			return nil, fmt.Errorf("%s: step %d is nil: %w", op, i, ErrNilParameter)
		}
	}
	opts := getChainOpts(opt...)
	return &Chain{
		resource:     resource,
		source:       source,
		steps:        steps,
		logger:       opts.withLogger,
		metrics:      opts.withMetrics,
		exposeTokens: opts.withExposeTokens,
		nowFunc:      opts.withNowFunc,
	}, nil
}

// Resource returns the chain's resource name.
func (c *Chain) Resource() string { return c.resource }

// Source returns the chain's subject source.
func (c *Chain) Source() SubjectSource { return c.source }

// Steps returns the chain's steps.
func (c *Chain) Steps() []Step { return c.steps }

// Run runs the steps in order, each consuming the previous step's output.
// There are no retries: the first failing step ends the run.  The Result is
// returned with the error so the trace of a failed run can be shown.
func (c *Chain) Run(ctx context.Context, subject Subject) (*Result, error) {
	const op = "Chain.Run"
	res := &Result{Resource: c.resource, Trace: []Trace{}}
	tok, err := subject.token(c.source)
	if err != nil {
		return res, fmt.Errorf("%s: %s: %w", op, c.resource, err)
	}

	for i, s := range c.steps {
		start := c.now()
		out, tr, err := s.Run(ctx, tok)
		elapsed := c.now().Sub(start)
		if tr == nil {
			tr = &Trace{Kind: s.Kind()}
		}
		tr.Step = i + 1
		tr.DurationMS = elapsed.Milliseconds()
		if err != nil {
			tr.Error = err.Error()
		} else if c.exposeTokens {
			tr.Token = out.Value
		}
		res.Trace = append(res.Trace, *tr)
		c.observe(s.Kind(), err, elapsed)

		if err != nil {
			c.logger.Debug("chain step failed", "resource", c.resource, "step", i+1, "kind", s.Kind(), "error", err)
			var connErr *ConnectionRequiredError
			if errors.As(err, &connErr) {
				return res, err
			}
			return res, fmt.Errorf("%s: %s: step %d (%s): %w", op, c.resource, i+1, s.Kind(), err)
		}
		c.logger.Debug("chain step complete", "resource", c.resource, "step", i+1, "kind", s.Kind(),
			"issued_token_type", tr.IssuedTokenType, "duration", elapsed)
		tok = out
	}
	res.Final = tok
	return res, nil
}

func (c *Chain) observe(kind Kind, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	outcome := OutcomeSuccess
	var connErr *ConnectionRequiredError
	switch {
	case errors.As(err, &connErr):
		outcome = OutcomeConnectionRequired
	case err != nil:
		outcome = OutcomeError
	}
	c.metrics.observe(c.resource, kind, outcome, d)
}

func (c *Chain) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}
