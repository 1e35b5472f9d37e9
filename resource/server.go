// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package resource

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caademo/caa/internal/web"
)

// API is one protected endpoint.  It's protected by bearer tokens when
// Validator is set, otherwise by Username and Password.
type API struct {
	// Name identifies the API in replies and as the auth realm.
	Name string

	// Path is the GET route, e.g. /hr/employees
	Path string

	Validator TokenValidator

	// Scopes are named in insufficient_scope challenges.
	Scopes []string

	Username string
	Password string

	// Data is returned in every reply.
	Data interface{}
}

// Reply is an API's response body.
type Reply struct {
	API     string      `json:"api"`
	Subject string      `json:"subject"`
	Data    interface{} `json:"data"`
}

// Server serves a set of APIs plus /healthz and /metrics.
type Server struct {
	router   chi.Router
	apis     []API
	registry *prometheus.Registry
	logger   hclog.Logger
}

// NewServer creates a Server for the apis.
//
// Supported options:
//   - WithLogger
//   - WithRegistry
func NewServer(apis []API, opt ...Option) (*Server, error) {
	const op = "resource.NewServer"
	if len(apis) == 0 {
		return nil, fmt.Errorf("%s: no apis: %w", op, ErrInvalidParameter)
	}
	seen := map[string]bool{}
	for _, a := range apis {
		switch {
		case a.Name == "":
			return nil, fmt.Errorf("%s: api name is empty: %w", op, ErrInvalidParameter)
		case !strings.HasPrefix(a.Path, "/"):
			return nil, fmt.Errorf("%s: api %q path %q must start with /: %w", op, a.Name, a.Path, ErrInvalidParameter)
		case a.Validator == nil && (a.Username == "" || a.Password == ""):
			return nil, fmt.Errorf("%s: api %q needs a validator or a username and password: %w", op, a.Name, ErrInvalidParameter)
		case seen[a.Path] || a.Path == "/healthz" || a.Path == "/metrics":
			return nil, fmt.Errorf("%s: api %q path %q is already routed: %w", op, a.Name, a.Path, ErrInvalidParameter)
		}
		seen[a.Path] = true
	}
	opts := getServerOpts(opt...)
	reg := opts.withRegistry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	s := &Server{
		apis:     apis,
		registry: reg,
		logger:   opts.withLogger,
	}
	s.router = s.routes(web.NewMetrics(reg))
	return s, nil
}

func (s *Server) routes(m *web.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, web.AccessLog(s.logger), m.Middleware)
	r.Get("/healthz", web.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	for _, a := range s.apis {
		auth := Basic(a.Username, a.Password, a.Name)
		if a.Validator != nil {
			auth = Bearer(a.Validator, a.Name, a.Scopes)
		}
		r.With(auth).Get(a.Path, s.serveAPI(a))
		s.logger.Debug("api routed", "name", a.Name, "path", a.Path, "bearer", a.Validator != nil)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		web.WriteError(w, http.StatusNotFound, "not_found", r.URL.Path)
	})
	return r
}

func (s *Server) serveAPI(a API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFromContext(r.Context())
		s.logger.Info("api called", "api", a.Name, "subject", caller.Subject)
		web.WriteJSON(w, http.StatusOK, Reply{API: a.Name, Subject: caller.Subject, Data: a.Data})
	}
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.router }
