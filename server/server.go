// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caademo/caa/caa"
	"github.com/caademo/caa/connect"
	"github.com/caademo/caa/internal/web"
	"github.com/caademo/caa/oidc"
	"github.com/caademo/caa/session"
)

// Resource is a resource the signed-in user can access through a chain.
type Resource struct {
	Name        string
	DisplayName string
	Chain       *caa.Chain
	API         caa.API
}

// Server is the demo application.
type Server struct {
	baseURL   string
	provider  *oidc.Provider
	store     *session.Store
	resources map[string]Resource
	order     []string

	caller         *caa.Caller
	connect        *connect.Client
	jwks           *jose.JSONWebKeySet
	registry       *prometheus.Registry
	loginTimeout   time.Duration
	connectTimeout time.Duration
	logger         hclog.Logger
	nowFunc        func() time.Time

	router chi.Router
}

// New creates the demo application.  The baseURL is the app's external URL;
// the provider's redirect URL must be baseURL/callback.
//
// Supported options:
//   - WithLogger
//   - WithRegistry
//   - WithLoginTimeout
//   - WithConnectTimeout
//   - WithConnectClient
//   - WithCaller
//   - WithJWKS
//   - WithNow
func New(baseURL string, p *oidc.Provider, store *session.Store, resources []Resource, opt ...Option) (*Server, error) {
	const op = "server.New"
	switch {
	case p == nil:
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrNilParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%s: base URL %q is not an http(s) URL: %w", op, baseURL, ErrInvalidParameter)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if p.RedirectURL() != baseURL+"/callback" {
		return nil, fmt.Errorf("%s: provider redirect URL %q must be %s/callback: %w", op, p.RedirectURL(), baseURL, ErrInvalidParameter)
	}
	opts := getServerOpts(opt...)

	s := &Server{
		baseURL:        baseURL,
		provider:       p,
		store:          store,
		resources:      make(map[string]Resource, len(resources)),
		caller:         opts.withCaller,
		connect:        opts.withConnectClient,
		jwks:           opts.withJWKS,
		registry:       opts.withRegistry,
		loginTimeout:   opts.withLoginTimeout,
		connectTimeout: opts.withConnectTimeout,
		logger:         opts.withLogger,
		nowFunc:        opts.withNowFunc,
	}
	for _, r := range resources {
		switch {
		case r.Name == "" || strings.ContainsAny(r.Name, "/?#"):
			return nil, fmt.Errorf("%s: invalid resource name %q: %w", op, r.Name, ErrInvalidParameter)
		case r.Chain == nil:
			return nil, fmt.Errorf("%s: resource %q has no chain: %w", op, r.Name, ErrNilParameter)
		case r.API.URL == "":
			return nil, fmt.Errorf("%s: resource %q has no api url: %w", op, r.Name, ErrInvalidParameter)
		case s.resources[r.Name].Name != "":
			return nil, fmt.Errorf("%s: duplicate resource %q: %w", op, r.Name, ErrInvalidParameter)
		}
		if r.DisplayName == "" {
			r.DisplayName = r.Name
		}
		s.resources[r.Name] = r
		s.order = append(s.order, r.Name)
	}
	if s.caller == nil {
		if s.caller, err = caa.NewCaller(caa.WithLogger(s.logger.Named("caller"))); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	s.router = s.routes(web.NewMetrics(s.registry))
	return s, nil
}

func (s *Server) routes(m *web.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, web.AccessLog(s.logger), m.Middleware)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", web.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	r.Get("/login", s.handleLogin)
	r.Get("/callback", s.handleCallback)
	r.Get("/logout", s.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser(false))
		r.Get("/me", s.handleMe)
		r.Get("/resources", s.handleResources)
		r.Post("/resources/{name}/access", s.handleAccess)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.requireUser(true))
		r.Get("/connect/callback", s.handleConnectCallback)
		r.Get("/connect/{name}", s.handleConnect)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		web.WriteError(w, http.StatusNotFound, codeNotFound, r.URL.Path)
	})
	return r
}

// Handler returns the application's http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now() // fallback to this default
}

type userKey struct{}

// requireUser loads the signed-in user into the request context.  Without
// one, API routes get a 401 and browser routes are sent to /login.
func (s *Server) requireUser(browser bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := s.store.User(r)
			if err != nil {
				s.logger.Debug("no user session", "path", r.URL.Path, "error", err)
				if browser {
					http.Redirect(w, r, "/login", http.StatusFound)
					return
				}
				web.WriteError(w, http.StatusUnauthorized, codeUnauthenticated, "sign in at /login")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
		})
	}
}

func userFrom(ctx context.Context) *session.User {
	u, _ := ctx.Value(userKey{}).(*session.User)
	return u
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	reply := map[string]interface{}{
		"app":       "caademo",
		"signed_in": false,
		"resources": s.order,
		"routes": []string{
			"GET /login",
			"GET /callback",
			"GET /logout",
			"GET /api/me",
			"GET /api/resources",
			"POST /api/resources/{name}/access",
			"GET /connect/{name}",
			"GET /connect/callback",
			"GET /.well-known/jwks.json",
			"GET /healthz",
			"GET /metrics",
		},
	}
	if u, err := s.store.User(r); err == nil {
		reply["signed_in"] = true
		reply["user"] = u
	}
	if c := r.URL.Query().Get("connected"); c != "" {
		reply["connected"] = c
	}
	web.WriteJSON(w, http.StatusOK, reply)
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	if s.jwks == nil {
		web.WriteError(w, http.StatusNotFound, codeNotFound, "no signing keys are configured")
		return
	}
	web.WriteJSON(w, http.StatusOK, s.jwks)
}
