// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/caademo/caa/caa"
	"github.com/caademo/caa/internal/strutils"
)

// EnvPrefix prefixes every environment override, e.g. CAA_OKTA_CLIENT_SECRET
// for okta.client_secret.
const EnvPrefix = "CAA"

// Client authentication methods at a token endpoint.
const (
	AuthClientSecretBasic = "client_secret_basic"
	AuthClientSecretPost  = "client_secret_post"
	AuthPrivateKeyJWT     = "private_key_jwt"
	AuthNone              = "none"
)

// Config is the demo's configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Session        SessionConfig        `mapstructure:"session"`
	Okta           OktaConfig           `mapstructure:"okta"`
	Auth0          Auth0Config          `mapstructure:"auth0"`
	Trace          TraceConfig          `mapstructure:"trace"`
	Log            LogConfig            `mapstructure:"log"`
	Resources      []ResourceConfig     `mapstructure:"resources"`
	ResourceServer ResourceServerConfig `mapstructure:"resource_server"`
}

// ServerConfig configures the demo app's listener.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`

	// BaseURL is the externally visible URL of the app; the login callback
	// is BaseURL + "/callback".
	BaseURL        string        `mapstructure:"base_url"`
	LoginTimeout   time.Duration `mapstructure:"login_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SessionConfig holds the base64 encoded cookie keys.
type SessionConfig struct {
	HashKey  string        `mapstructure:"hash_key"`
	BlockKey string        `mapstructure:"block_key"`
	Secure   bool          `mapstructure:"secure"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// OktaConfig is the Okta org and the demo's OIDC app.
type OktaConfig struct {
	Issuer       string `mapstructure:"issuer"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// PrivateKeyFile, when set, authenticates the app at token endpoints
	// with private_key_jwt and is published at /.well-known/jwks.json.
	PrivateKeyFile string   `mapstructure:"private_key_file"`
	KeyID          string   `mapstructure:"key_id"`
	Scopes         []string `mapstructure:"scopes"`

	// CAPEM replaces the system roots for outbound requests.
	CAPEM string `mapstructure:"ca_pem"`
}

// TokenURL is the org authorization server's token endpoint, where ID-JAGs
// are issued.
func (o OktaConfig) TokenURL() string {
	return strings.TrimSuffix(o.Issuer, "/") + "/oauth2/v1/token"
}

// Auth0Config locates the My Account API used to connect accounts.
type Auth0Config struct {
	MyAccountURL string `mapstructure:"my_account_url"`
}

// TraceConfig controls what the access replies show.
type TraceConfig struct {
	ExposeTokens bool `mapstructure:"expose_tokens"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// ResourceConfig is one resource reachable through a chain.
type ResourceConfig struct {
	Name        string `mapstructure:"name"`
	DisplayName string `mapstructure:"display_name"`

	// Subject is id_token (the default) or access_token.
	Subject string       `mapstructure:"subject"`
	Steps   []StepConfig `mapstructure:"steps"`
	API     APIConfig    `mapstructure:"api"`
}

// StepConfig is one step of a chain.
type StepConfig struct {
	Kind string `mapstructure:"kind"`

	// TokenURL defaults to the Okta org token endpoint for id-jag steps and
	// is required otherwise.
	TokenURL           string   `mapstructure:"token_url"`
	Audience           string   `mapstructure:"audience"`
	Resource           string   `mapstructure:"resource"`
	Scopes             []string `mapstructure:"scopes"`
	RequestedTokenType string   `mapstructure:"requested_token_type"`
	Connection         string   `mapstructure:"connection"`

	// Claim names the user claim used as the subject of a
	// jwt-bearer-assertion step.
	Claim             string `mapstructure:"claim"`
	AssertionAudience string `mapstructure:"assertion_audience"`

	// Client defaults to the Okta app.
	Client ClientConfig `mapstructure:"client"`
}

// ClientConfig is how a step authenticates at its token endpoint.
type ClientConfig struct {
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	AuthMethod     string `mapstructure:"auth_method"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
	KeyID          string `mapstructure:"key_id"`
}

// APIConfig is the resource API called with the chain's final token.
type APIConfig struct {
	URL    string `mapstructure:"url"`
	Method string `mapstructure:"method"`
}

// ResourceServerConfig configures the mock resource APIs.
type ResourceServerConfig struct {
	Listen       string              `mapstructure:"listen"`
	JWKSCacheTTL time.Duration       `mapstructure:"jwks_cache_ttl"`
	APIs         []ResourceAPIConfig `mapstructure:"apis"`
}

// ResourceAPIConfig is one mock API.  It's protected by bearer tokens when
// JWKSURL is set, otherwise by Username and Password.
type ResourceAPIConfig struct {
	Name      string   `mapstructure:"name"`
	Path      string   `mapstructure:"path"`
	Dataset   string   `mapstructure:"dataset"`
	Issuer    string   `mapstructure:"issuer"`
	JWKSURL   string   `mapstructure:"jwks_url"`
	Audiences []string `mapstructure:"audiences"`
	Scopes    []string `mapstructure:"scopes"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

var defaults = map[string]interface{}{
	"server.listen":                  ":8080",
	"server.login_timeout":           "5m",
	"server.connect_timeout":         "10m",
	"session.max_age":                "8h",
	"okta.scopes":                    []string{"profile", "email"},
	"log.level":                      "info",
	"resource_server.listen":         ":8081",
	"resource_server.jwks_cache_ttl": "10m",
}

// envKeys can be set from the environment even when the file omits them.
var envKeys = []string{
	"server.listen", "server.base_url",
	"session.hash_key", "session.block_key", "session.secure",
	"okta.issuer", "okta.client_id", "okta.client_secret", "okta.private_key_file", "okta.key_id", "okta.ca_pem",
	"auth0.my_account_url",
	"trace.expose_tokens",
	"log.level", "log.json",
	"resource_server.listen",
}

func newViper() (*viper.Viper, error) {
	const op = "config.newViper"
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range envKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("%s: binding %s: %w", op, k, err)
		}
	}
	return v, nil
}

// Load reads the YAML file at path, applies environment overrides and
// defaults.  An empty path loads from the environment alone.  The result
// isn't validated.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	v, err := newViper()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrLoad, err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrLoad, err)
		}
	}
	return decode(op, v)
}

// Read is Load from a reader of YAML.
func Read(r io.Reader) (*Config, error) {
	const op = "config.Read"
	if r == nil {
		return nil, fmt.Errorf("%s: reader is nil: %w", op, ErrNilParameter)
	}
	v, err := newViper()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrLoad, err)
	}
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrLoad, err)
	}
	return decode(op, v)
}

func decode(op string, v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrLoad, err)
	}
	return &c, nil
}

// Validate checks the demo app's configuration, and the resource server's
// when it has APIs.  It reports every problem at once.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var errs *multierror.Error
	add := func(format string, a ...interface{}) {
		errs = multierror.Append(errs, fmt.Errorf(format, a...))
	}

	if c.Server.Listen == "" {
		add("server.listen: %w", ErrMissingValue)
	}
	if err := checkURL(c.Server.BaseURL); err != nil {
		add("server.base_url: %w", err)
	}
	if _, _, err := c.Session.Keys(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := checkURL(c.Okta.Issuer); err != nil {
		add("okta.issuer: %w", err)
	}
	if c.Okta.ClientID == "" {
		add("okta.client_id: %w", ErrMissingValue)
	}
	if c.Okta.KeyID != "" && c.Okta.PrivateKeyFile == "" {
		add("okta.key_id: set without okta.private_key_file: %w", ErrInvalidParameter)
	}
	if c.Auth0.MyAccountURL != "" {
		if err := checkURL(c.Auth0.MyAccountURL); err != nil {
			add("auth0.my_account_url: %w", err)
		}
	}
	if c.Log.Level != "" && !strutils.StrListContains([]string{"trace", "debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		add("log.level: %q: %w", c.Log.Level, ErrInvalidParameter)
	}

	names := map[string]bool{}
	for i, r := range c.Resources {
		prefix := fmt.Sprintf("resources[%d]", i)
		switch {
		case r.Name == "":
			add("%s.name: %w", prefix, ErrMissingValue)
		case strings.ContainsAny(r.Name, "/?#"):
			add("%s.name: %q: %w", prefix, r.Name, ErrInvalidParameter)
		case names[r.Name]:
			add("%s.name: duplicate %q: %w", prefix, r.Name, ErrInvalidParameter)
		default:
			prefix = fmt.Sprintf("resources[%s]", r.Name)
		}
		names[r.Name] = true

		switch caa.SubjectSource(r.Subject) {
		case "", caa.SubjectIDToken, caa.SubjectAccessToken:
		default:
			add("%s.subject: %q: %w", prefix, r.Subject, ErrInvalidParameter)
		}
		if err := checkURL(r.API.URL); err != nil {
			add("%s.api.url: %w", prefix, err)
		}
		switch strings.ToUpper(r.API.Method) {
		case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			add("%s.api.method: %q: %w", prefix, r.API.Method, ErrInvalidParameter)
		}
		for j, s := range r.Steps {
			for _, err := range c.validateStep(s) {
				add("%s.steps[%d]: %w", prefix, j, err)
			}
		}
	}

	if len(c.ResourceServer.APIs) > 0 {
		if err := c.ResourceServer.Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Config) validateStep(s StepConfig) []error {
	var errs []error
	kind := caa.Kind(s.Kind)
	known := false
	for _, k := range caa.Kinds() {
		if k == kind {
			known = true
		}
	}
	if !known {
		return []error{fmt.Errorf("kind %q: %w", s.Kind, ErrInvalidParameter)}
	}
	switch kind {
	case caa.KindIDJAG:
		if s.Audience == "" {
			errs = append(errs, fmt.Errorf("audience: %w", ErrMissingValue))
		}
	case caa.KindFederatedConnection:
		if s.Connection == "" {
			errs = append(errs, fmt.Errorf("connection: %w", ErrMissingValue))
		}
	case caa.KindJWTBearerAssertion:
		if s.Client.PrivateKeyFile == "" && c.Okta.PrivateKeyFile == "" {
			errs = append(errs, fmt.Errorf("client.private_key_file: needed to sign the assertion: %w", ErrMissingValue))
		}
	}
	switch {
	case s.TokenURL == "" && kind != caa.KindIDJAG:
		errs = append(errs, fmt.Errorf("token_url: %w", ErrMissingValue))
	case s.TokenURL != "":
		if err := checkURL(s.TokenURL); err != nil {
			errs = append(errs, fmt.Errorf("token_url: %w", err))
		}
	}
	if s.Client.ClientID == "" {
		if s.Client != (ClientConfig{}) {
			errs = append(errs, fmt.Errorf("client.client_id: %w", ErrMissingValue))
		}
		return errs
	}
	switch s.Client.authMethod() {
	case AuthClientSecretBasic, AuthClientSecretPost:
		if s.Client.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("client.client_secret: %w", ErrMissingValue))
		}
	case AuthPrivateKeyJWT:
		if s.Client.PrivateKeyFile == "" {
			errs = append(errs, fmt.Errorf("client.private_key_file: %w", ErrMissingValue))
		}
	case AuthNone:
	default:
		errs = append(errs, fmt.Errorf("client.auth_method %q: %w", s.Client.AuthMethod, ErrInvalidParameter))
	}
	return errs
}

// authMethod returns the configured method, or the one implied by the
// credentials present.
func (c ClientConfig) authMethod() string {
	switch {
	case c.AuthMethod != "":
		return c.AuthMethod
	case c.PrivateKeyFile != "":
		return AuthPrivateKeyJWT
	case c.ClientSecret != "":
		return AuthClientSecretBasic
	default:
		return AuthNone
	}
}

// Validate checks the resource server's configuration, reporting every
// problem at once.
func (c *ResourceServerConfig) Validate() error {
	const op = "ResourceServerConfig.Validate"
	var errs *multierror.Error
	add := func(format string, a ...interface{}) {
		errs = multierror.Append(errs, fmt.Errorf(format, a...))
	}
	if c.Listen == "" {
		add("resource_server.listen: %w", ErrMissingValue)
	}
	if len(c.APIs) == 0 {
		add("resource_server.apis: %w", ErrMissingValue)
	}
	paths := map[string]bool{}
	for i, a := range c.APIs {
		prefix := fmt.Sprintf("resource_server.apis[%d]", i)
		if a.Name == "" {
			add("%s.name: %w", prefix, ErrMissingValue)
		}
		switch {
		case !strings.HasPrefix(a.Path, "/"):
			add("%s.path: %q must start with /: %w", prefix, a.Path, ErrInvalidParameter)
		case paths[a.Path]:
			add("%s.path: duplicate %q: %w", prefix, a.Path, ErrInvalidParameter)
		}
		paths[a.Path] = true

		switch {
		case a.JWKSURL != "":
			if err := checkURL(a.JWKSURL); err != nil {
				add("%s.jwks_url: %w", prefix, err)
			}
			if a.Issuer == "" {
				add("%s.issuer: %w", prefix, ErrMissingValue)
			}
			if len(a.Audiences) == 0 {
				add("%s.audiences: %w", prefix, ErrMissingValue)
			}
		case a.Username == "" || a.Password == "":
			add("%s: needs jwks_url or username and password: %w", prefix, ErrMissingValue)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Keys decodes the session keys.
func (c SessionConfig) Keys() (hashKey, blockKey []byte, err error) {
	const op = "SessionConfig.Keys"
	if c.HashKey == "" || c.BlockKey == "" {
		return nil, nil, fmt.Errorf("%s: session.hash_key and session.block_key: %w", op, ErrMissingValue)
	}
	if hashKey, err = base64.StdEncoding.DecodeString(c.HashKey); err != nil {
		return nil, nil, fmt.Errorf("%s: session.hash_key is not base64: %w", op, ErrInvalidParameter)
	}
	if blockKey, err = base64.StdEncoding.DecodeString(c.BlockKey); err != nil {
		return nil, nil, fmt.Errorf("%s: session.block_key is not base64: %w", op, ErrInvalidParameter)
	}
	if len(hashKey) < 32 {
		return nil, nil, fmt.Errorf("%s: session.hash_key must be at least 32 bytes: %w", op, ErrInvalidParameter)
	}
	switch len(blockKey) {
	case 16, 24, 32:
	default:
		return nil, nil, fmt.Errorf("%s: session.block_key must be 16, 24 or 32 bytes: %w", op, ErrInvalidParameter)
	}
	return hashKey, blockKey, nil
}

func checkURL(s string) error {
	if s == "" {
		return ErrMissingValue
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL: %w", s, ErrInvalidParameter)
	}
	return nil
}
