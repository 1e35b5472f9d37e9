// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package caa

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caademo/caa/assertion"
	"github.com/caademo/caa/exchange"
	"github.com/caademo/caa/internal/strutils"
	"github.com/caademo/caa/jwt"
)

// Kind is a step kind.
type Kind string

const (
	KindIDJAG               Kind = "id-jag"
	KindJWTBearer           Kind = "jwt-bearer"
	KindJWTBearerAssertion  Kind = "jwt-bearer-assertion"
	KindTokenExchange       Kind = "token-exchange"
	KindVaultedSecret       Kind = "vaulted-secret"
	KindServiceAccount      Kind = "service-account"
	KindFederatedConnection Kind = "federated-connection"
)

// Kinds lists the supported step kinds.
func Kinds() []Kind {
	return []Kind{
		KindIDJAG, KindJWTBearer, KindJWTBearerAssertion, KindTokenExchange,
		KindVaultedSecret, KindServiceAccount, KindFederatedConnection,
	}
}

// Step is one grant in a chain.  Run consumes the previous step's token (or
// the subject's) and returns the next.  The returned Trace is filled in as
// far as the step got, also on error.
type Step interface {
	Kind() Kind
	Run(ctx context.Context, in Token) (Token, *Trace, error)
}

// step implements every Kind; the fields used depend on the kind.
type step struct {
	kind   Kind
	client *exchange.Client

	audience           string
	resource           string
	scopes             []string
	requestedTokenType string
	connection         string
	subjectClaim       string

	assertionIssuer   string
	assertionAudience string
	assertionKey      *rsa.PrivateKey
	assertionKeyID    string
	assertionAlg      assertion.RSAlgorithm

	nowFunc func() time.Time
}

var _ Step = (*step)(nil)

// NewStep creates a step of kind that makes its token requests with client.
//
// Required options by kind:
//   - id-jag: WithAudience
//   - federated-connection: WithConnection
//   - jwt-bearer-assertion: WithAssertionKey
//
// Supported options:
//   - WithAudience
//   - WithResource
//   - WithScopes
//   - WithRequestedTokenType (token-exchange)
//   - WithConnection
//   - WithSubjectClaim (jwt-bearer-assertion)
//   - WithAssertionKey, WithAssertionIssuer, WithAssertionAudience
//   - WithNow
func NewStep(kind Kind, client *exchange.Client, opt ...Option) (Step, error) {
	const op = "caa.NewStep"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	opts := getStepOpts(opt...)
	s := &step{
		kind:               kind,
		client:             client,
		audience:           opts.withAudience,
		resource:           opts.withResource,
		scopes:             opts.withScopes,
		requestedTokenType: opts.withRequestedTokenType,
		connection:         opts.withConnection,
		subjectClaim:       opts.withSubjectClaim,
		assertionIssuer:    opts.withAssertionIssuer,
		assertionAudience:  opts.withAssertionAudience,
		assertionKey:       opts.withAssertionKey,
		assertionKeyID:     opts.withAssertionKeyID,
		assertionAlg:       opts.withAssertionAlg,
		nowFunc:            opts.withNowFunc,
	}
	switch kind {
	case KindIDJAG:
		if s.audience == "" {
			return nil, fmt.Errorf("%s: %s step requires an audience: %w", op, kind, ErrInvalidParameter)
		}
	case KindFederatedConnection:
		if s.connection == "" {
			return nil, fmt.Errorf("%s: %s step requires a connection: %w", op, kind, ErrInvalidParameter)
		}
	case KindJWTBearerAssertion:
		if s.assertionKey == nil {
			return nil, fmt.Errorf("%s: %s step requires a signing key: %w", op, kind, ErrInvalidParameter)
		}
		if err := s.assertionAlg.Validate(s.assertionKey); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if s.assertionIssuer == "" {
			s.assertionIssuer = client.ClientID()
		}
		if s.assertionAudience == "" {
			s.assertionAudience = client.TokenURL()
		}
	case KindJWTBearer, KindTokenExchange, KindVaultedSecret, KindServiceAccount:
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, kind, ErrUnsupportedKind)
	}
	return s, nil
}

// Kind returns the step's kind.
func (s *step) Kind() Kind { return s.kind }

// Run implements Step.
func (s *step) Run(ctx context.Context, in Token) (Token, *Trace, error) {
	const op = "step.Run"
	tr := &Trace{
		Kind:             s.kind,
		Endpoint:         s.client.TokenURL(),
		SubjectTokenType: in.Type,
	}
	if in.Value == "" {
		return Token{}, tr, fmt.Errorf("%s: %s: %w", op, s.kind, ErrMissingSubjectToken)
	}

	var (
		out Token
		err error
	)
	switch s.kind {
	case KindIDJAG:
		out, err = s.idJAG(ctx, in, tr)
	case KindJWTBearer:
		tr.GrantType = exchange.GrantTypeJWTBearer
		out, err = s.jwtBearer(ctx, in.Value)
	case KindJWTBearerAssertion:
		tr.GrantType = exchange.GrantTypeJWTBearer
		out, err = s.assertionGrant(ctx, in)
	case KindTokenExchange:
		out, err = s.tokenExchange(ctx, in, tr, s.requestedTokenType)
	case KindVaultedSecret:
		out, err = s.credential(ctx, in, tr, exchange.TokenTypeVaultedSecret)
	case KindServiceAccount:
		out, err = s.credential(ctx, in, tr, exchange.TokenTypeServiceAccount)
	case KindFederatedConnection:
		out, err = s.federated(ctx, in, tr)
	}
	if err != nil {
		return Token{}, tr, err
	}
	tr.IssuedTokenType = out.Type
	if out.Value != "" {
		if d, err := jwt.Decode(out.Value); err == nil {
			tr.Claims = d.Claims
		}
	}
	return out, tr, nil
}

func (s *step) exchangeRequest(in Token, requested string) *exchange.TokenExchangeRequest {
	return &exchange.TokenExchangeRequest{
		SubjectToken:       in.Value,
		SubjectTokenType:   in.Type,
		RequestedTokenType: requested,
		Audience:           s.audience,
		Resource:           s.resource,
		Scopes:             s.scopes,
	}
}

func (s *step) idJAG(ctx context.Context, in Token, tr *Trace) (Token, error) {
	const op = "step.idJAG"
	tr.GrantType = exchange.GrantTypeTokenExchange
	resp, err := s.client.TokenExchange(ctx, s.exchangeRequest(in, exchange.TokenTypeIDJAG))
	if err != nil {
		return Token{}, fmt.Errorf("%s: %w", op, err)
	}
	if resp.IssuedTokenType != exchange.TokenTypeIDJAG {
		return Token{}, fmt.Errorf("%s: issued %q: %w", op, resp.IssuedTokenType, ErrUnexpectedTokenType)
	}
	d, err := jwt.Decode(resp.AccessToken)
	if err != nil {
		return Token{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidIDJAG, err)
	}
	switch {
	case d.Type() != exchange.IDJAGType:
		return Token{}, fmt.Errorf("%s: typ %q: %w", op, d.Type(), ErrInvalidIDJAG)
	case !strutils.StrListContains(d.Claims.Audience(), s.audience):
		return Token{}, fmt.Errorf("%s: aud %v does not contain %q: %w", op, d.Claims.Audience(), s.audience, ErrInvalidIDJAG)
	case d.Claims.Expiry().IsZero():
		return Token{}, fmt.Errorf("%s: missing exp: %w", op, ErrInvalidIDJAG)
	case !d.Claims.Expiry().After(s.now()):
		return Token{}, fmt.Errorf("%s: expired at %s: %w", op, d.Claims.Expiry().UTC().Format(time.RFC3339), ErrInvalidIDJAG)
	}
	return Token{
		Value:  resp.AccessToken,
		Type:   exchange.TokenTypeIDJAG,
		Expiry: d.Claims.Expiry(),
	}, nil
}

func (s *step) jwtBearer(ctx context.Context, grant string) (Token, error) {
	const op = "step.jwtBearer"
	resp, err := s.client.JWTBearer(ctx, grant, s.scopes...)
	if err != nil {
		return Token{}, fmt.Errorf("%s: %w", op, err)
	}
	return Token{
		Value:  resp.AccessToken,
		Type:   exchange.TokenTypeAccessToken,
		Expiry: resp.Expiry,
		Extra:  resp.Extra,
	}, nil
}

// assertionGrant signs an authorization grant whose subject is a claim of
// the incoming token, e.g. the Salesforce JWT bearer flow keyed on email.
func (s *step) assertionGrant(ctx context.Context, in Token) (Token, error) {
	const op = "step.assertionGrant"
	d, err := jwt.Decode(in.Value)
	if err != nil {
		return Token{}, fmt.Errorf("%s: subject token: %w", op, err)
	}
	sub := d.Claims.String(s.subjectClaim)
	if sub == "" {
		return Token{}, fmt.Errorf("%s: claim %q: %w", op, s.subjectClaim, ErrMissingClaim)
	}
	opts := []assertion.Option{
		assertion.WithRSAKey(s.assertionKey, s.assertionAlg),
		assertion.WithSubject(sub),
	}
	if s.assertionKeyID != "" {
		opts = append(opts, assertion.WithKeyID(s.assertionKeyID))
	}
	j, err := assertion.New(s.assertionIssuer, []string{s.assertionAudience}, opts...)
	if err != nil {
		return Token{}, fmt.Errorf("%s: %w", op, err)
	}
	grant, err := j.Serialize()
	if err != nil {
		return Token{}, fmt.Errorf("%s: %w", op, err)
	}
	out, err := s.jwtBearer(ctx, grant)
	if err != nil {
		return Token{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *step) tokenExchange(ctx context.Context, in Token, tr *Trace, requested string) (Token, error) {
	const op = "step.tokenExchange"
	tr.GrantType = exchange.GrantTypeTokenExchange
	resp, err := s.client.TokenExchange(ctx, s.exchangeRequest(in, requested))
	if err != nil {
		return Token{}, fmt.Errorf("%s: %w", op, err)
	}
	if requested != "" && resp.IssuedTokenType != requested {
		return Token{}, fmt.Errorf("%s: requested %q, issued %q: %w", op, requested, resp.IssuedTokenType, ErrUnexpectedTokenType)
	}
	return Token{
		Value:      resp.AccessToken,
		Type:       resp.IssuedTokenType,
		Expiry:     resp.Expiry,
		Credential: resp.Credential,
		Extra:      resp.Extra,
	}, nil
}

func (s *step) credential(ctx context.Context, in Token, tr *Trace, requested string) (Token, error) {
	const op = "step.credential"
	out, err := s.tokenExchange(ctx, in, tr, requested)
	if err != nil {
		return Token{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.Credential == nil {
		return Token{}, fmt.Errorf("%s: %s response: %w", op, s.kind, ErrMissingCredential)
	}
	return out, nil
}

func (s *step) federated(ctx context.Context, in Token, tr *Trace) (Token, error) {
	const op = "step.federated"
	tr.GrantType = exchange.GrantTypeFederatedConnection
	r := s.exchangeRequest(in, exchange.TokenTypeFederatedConnection)
	r.GrantType = exchange.GrantTypeFederatedConnection
	r.Extra = url.Values{"connection": {s.connection}}

	resp, err := s.client.TokenExchange(ctx, r)
	if err != nil {
		var oauthErr *exchange.Error
		if errors.As(err, &oauthErr) && (oauthErr.Code == errFederatedNotFound || oauthErr.Code == errFederatedExpired) {
			return Token{}, &ConnectionRequiredError{
				Connection:   s.connection,
				Scopes:       s.scopes,
				SubjectToken: in,
				Err:          oauthErr,
			}
		}
		return Token{}, fmt.Errorf("%s: %w", op, err)
	}
	return Token{
		Value:  resp.AccessToken,
		Type:   resp.IssuedTokenType,
		Expiry: resp.Expiry,
		Extra:  resp.Extra,
	}, nil
}

func (s *step) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}
