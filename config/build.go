// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/caademo/caa/assertion"
	"github.com/caademo/caa/caa"
	"github.com/caademo/caa/connect"
	"github.com/caademo/caa/exchange"
	"github.com/caademo/caa/jwt"
	"github.com/caademo/caa/oidc"
	"github.com/caademo/caa/resource"
	sdkhttp "github.com/caademo/caa/sdk/http"
	"github.com/caademo/caa/server"
	"github.com/caademo/caa/session"
)

// DefaultRequestTimeout bounds every outbound request made by built
// components.
const DefaultRequestTimeout = 30 * time.Second

// HTTPClient returns the client used for outbound requests, trusting
// okta.ca_pem when set.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkhttp.NewClient(c.Okta.CAPEM, sdkhttp.WithTimeout(DefaultRequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("%s: okta.ca_pem: %w", op, err)
	}
	return client, nil
}

// RedirectURL is the login callback of the demo app.
func (c *Config) RedirectURL() string {
	return strings.TrimSuffix(c.Server.BaseURL, "/") + "/callback"
}

// OIDCConfig is the login configuration of the Okta app.
func (c *Config) OIDCConfig() (*oidc.Config, error) {
	const op = "Config.OIDCConfig"
	opts := []oidc.Option{oidc.WithScopes(c.Okta.Scopes...)}
	if c.Okta.CAPEM != "" {
		opts = append(opts, oidc.WithProviderCA(c.Okta.CAPEM))
	}
	oc, err := oidc.NewConfig(c.Okta.Issuer, c.Okta.ClientID, oidc.ClientSecret(c.Okta.ClientSecret),
		[]jwt.Alg{jwt.RS256}, c.RedirectURL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return oc, nil
}

// BuildSessionStore creates the cookie store.  Cookies are marked secure when
// session.secure is set or the base URL is https.
//
// Supported options:
//   - WithLogger
func (c *Config) BuildSessionStore(opt ...Option) (*session.Store, error) {
	const op = "Config.BuildSessionStore"
	opts := getBuildOpts(opt...)
	hashKey, blockKey, err := c.Session.Keys()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	secure := c.Session.Secure || strings.HasPrefix(c.Server.BaseURL, "https://")
	sopts := []session.Option{session.WithSecure(secure), session.WithLogger(opts.withLogger)}
	if c.Session.MaxAge > 0 {
		sopts = append(sopts, session.WithMaxAge(c.Session.MaxAge))
	}
	store, err := session.NewStore(hashKey, blockKey, sopts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return store, nil
}

// BuildConnectClient creates the My Account API client.  It returns nil
// when auth0.my_account_url isn't set.
//
// Supported options:
//   - WithHTTPClient
//   - WithLogger
func (c *Config) BuildConnectClient(opt ...Option) (*connect.Client, error) {
	const op = "Config.BuildConnectClient"
	if c.Auth0.MyAccountURL == "" {
		return nil, nil
	}
	b, err := c.builder(opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cc, err := connect.NewClient(c.Auth0.MyAccountURL, connect.WithHTTPClient(b.client), connect.WithLogger(b.opts.withLogger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cc, nil
}

// BuildJWKS returns the public key set of okta.private_key_file, or nil when
// it isn't set.
func (c *Config) BuildJWKS() (*jose.JSONWebKeySet, error) {
	const op = "Config.BuildJWKS"
	if c.Okta.PrivateKeyFile == "" {
		return nil, nil
	}
	key, err := loadKey(c.Okta.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	set, err := assertion.PublicJWKS(key, c.Okta.KeyID, assertion.RS256)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return set, nil
}

// BuildChains creates the demo app's resources with their chains.
//
// Supported options:
//   - WithHTTPClient
//   - WithLogger
//   - WithMetrics
func (c *Config) BuildChains(opt ...Option) ([]server.Resource, error) {
	const op = "Config.BuildChains"
	b, err := c.builder(opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resources := make([]server.Resource, 0, len(c.Resources))
	for _, r := range c.Resources {
		steps := make([]caa.Step, 0, len(r.Steps))
		for i, sc := range r.Steps {
			s, err := b.step(sc)
			if err != nil {
				return nil, fmt.Errorf("%s: resource %s: step %d: %w", op, r.Name, i+1, err)
			}
			steps = append(steps, s)
		}

		copts := []caa.Option{
			caa.WithLogger(b.opts.withLogger.Named("chain")),
			caa.WithExposeTokens(c.Trace.ExposeTokens),
		}
		if b.opts.withMetrics != nil {
			copts = append(copts, caa.WithMetrics(b.opts.withMetrics))
		}
		chain, err := caa.NewChain(r.Name, caa.SubjectSource(r.Subject), steps, copts...)
		if err != nil {
			return nil, fmt.Errorf("%s: resource %s: %w", op, r.Name, err)
		}
		resources = append(resources, server.Resource{
			Name:        r.Name,
			DisplayName: r.DisplayName,
			Chain:       chain,
			API:         caa.API{URL: r.API.URL, Method: strings.ToUpper(r.API.Method)},
		})
	}
	return resources, nil
}

// BuildResourceServer creates the mock resource APIs.  Bearer protected APIs
// sharing a jwks_url share one cached key set.
//
// Supported options:
//   - WithHTTPClient
//   - WithLogger
//   - WithRegistry
func (c *Config) BuildResourceServer(opt ...Option) (*resource.Server, error) {
	const op = "Config.BuildResourceServer"
	if err := c.ResourceServer.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	b, err := c.builder(opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	keySets := map[string]jwt.KeySet{}
	apis := make([]resource.API, 0, len(c.ResourceServer.APIs))
	for _, a := range c.ResourceServer.APIs {
		name := a.Dataset
		if name == "" {
			name = a.Name
		}
		data, err := resource.Dataset(name)
		if err != nil {
			return nil, fmt.Errorf("%s: api %s: %w", op, a.Name, err)
		}
		api := resource.API{Name: a.Name, Path: a.Path, Scopes: a.Scopes, Data: data}
		if a.JWKSURL == "" {
			api.Username, api.Password = a.Username, a.Password
			apis = append(apis, api)
			continue
		}

		ks, ok := keySets[a.JWKSURL]
		if !ok {
			kopts := []jwt.Option{jwt.WithHTTPClient(b.client), jwt.WithLogger(b.opts.withLogger.Named("jwks"))}
			if ttl := c.ResourceServer.JWKSCacheTTL; ttl > 0 {
				kopts = append(kopts, jwt.WithCacheTTL(ttl))
			}
			if ks, err = jwt.NewJSONWebKeySet(a.JWKSURL, kopts...); err != nil {
				return nil, fmt.Errorf("%s: api %s: %w", op, a.Name, err)
			}
			keySets[a.JWKSURL] = ks
		}
		v, err := jwt.NewValidator(ks, jwt.Expected{
			Issuer:         a.Issuer,
			Audiences:      a.Audiences,
			RequiredScopes: a.Scopes,
		}, jwt.WithLogger(b.opts.withLogger.Named("validator")))
		if err != nil {
			return nil, fmt.Errorf("%s: api %s: %w", op, a.Name, err)
		}
		api.Validator = v
		apis = append(apis, api)
	}

	ropts := []resource.Option{resource.WithLogger(b.opts.withLogger)}
	if b.opts.withRegistry != nil {
		ropts = append(ropts, resource.WithRegistry(b.opts.withRegistry))
	}
	rs, err := resource.NewServer(apis, ropts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rs, nil
}

// builder carries what the Build methods share: one http client and the
// private keys read so far.
type builder struct {
	c      *Config
	opts   buildOptions
	client *http.Client
	keys   map[string]*rsa.PrivateKey
}

func (c *Config) builder(opt ...Option) (*builder, error) {
	opts := getBuildOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = c.HTTPClient(); err != nil {
			return nil, err
		}
	}
	return &builder{c: c, opts: opts, client: client, keys: map[string]*rsa.PrivateKey{}}, nil
}

func (b *builder) key(file string) (*rsa.PrivateKey, error) {
	if k, ok := b.keys[file]; ok {
		return k, nil
	}
	k, err := loadKey(file)
	if err != nil {
		return nil, err
	}
	b.keys[file] = k
	return k, nil
}

// clientConfig returns the step's client, or the Okta app's.
func (b *builder) clientConfig(cc ClientConfig) ClientConfig {
	if cc.ClientID != "" {
		return cc
	}
	return ClientConfig{
		ClientID:       b.c.Okta.ClientID,
		ClientSecret:   b.c.Okta.ClientSecret,
		PrivateKeyFile: b.c.Okta.PrivateKeyFile,
		KeyID:          b.c.Okta.KeyID,
	}
}

func (b *builder) clientAuth(cc ClientConfig) (exchange.ClientAuth, error) {
	const op = "config.clientAuth"
	switch m := cc.authMethod(); m {
	case AuthClientSecretBasic:
		return exchange.ClientSecretBasic{ID: cc.ClientID, Secret: cc.ClientSecret}, nil
	case AuthClientSecretPost:
		return exchange.ClientSecretPost{ID: cc.ClientID, Secret: cc.ClientSecret}, nil
	case AuthPrivateKeyJWT:
		key, err := b.key(cc.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return exchange.PrivateKeyJWT{ID: cc.ClientID, Key: key, KeyID: cc.KeyID, Alg: assertion.RS256}, nil
	case AuthNone:
		return exchange.None{ID: cc.ClientID}, nil
	default:
		return nil, fmt.Errorf("%s: auth method %q: %w", op, m, ErrInvalidParameter)
	}
}

// tokenURL returns the step's token endpoint; id-jag steps default to the
// Okta org authorization server.
func (b *builder) tokenURL(sc StepConfig) string {
	if sc.TokenURL == "" && caa.Kind(sc.Kind) == caa.KindIDJAG {
		return b.c.Okta.TokenURL()
	}
	return sc.TokenURL
}

func (b *builder) step(sc StepConfig) (caa.Step, error) {
	cc := b.clientConfig(sc.Client)
	auth, err := b.clientAuth(cc)
	if err != nil {
		return nil, err
	}
	ex, err := exchange.NewClient(b.tokenURL(sc), auth,
		exchange.WithHTTPClient(b.client),
		exchange.WithLogger(b.opts.withLogger.Named("exchange")),
	)
	if err != nil {
		return nil, err
	}

	var opts []caa.Option
	if sc.Audience != "" {
		opts = append(opts, caa.WithAudience(sc.Audience))
	}
	if sc.Resource != "" {
		opts = append(opts, caa.WithResource(sc.Resource))
	}
	if len(sc.Scopes) > 0 {
		opts = append(opts, caa.WithScopes(sc.Scopes...))
	}
	if sc.RequestedTokenType != "" {
		opts = append(opts, caa.WithRequestedTokenType(sc.RequestedTokenType))
	}
	if sc.Connection != "" {
		opts = append(opts, caa.WithConnection(sc.Connection))
	}
	if caa.Kind(sc.Kind) == caa.KindJWTBearerAssertion {
		file := cc.PrivateKeyFile
		if file == "" {
			file = b.c.Okta.PrivateKeyFile
		}
		key, err := b.key(file)
		if err != nil {
			return nil, err
		}
		opts = append(opts, caa.WithAssertionKey(key, cc.KeyID, assertion.RS256))
		if sc.Claim != "" {
			opts = append(opts, caa.WithSubjectClaim(sc.Claim))
		}
		if sc.AssertionAudience != "" {
			opts = append(opts, caa.WithAssertionAudience(sc.AssertionAudience))
		}
	}
	return caa.NewStep(caa.Kind(sc.Kind), ex, opts...)
}

func loadKey(file string) (*rsa.PrivateKey, error) {
	const op = "config.loadKey"
	if file == "" {
		return nil, fmt.Errorf("%s: private key file: %w", op, ErrMissingValue)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	key, err := assertion.ParseRSAPrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, file, err)
	}
	return key, nil
}
