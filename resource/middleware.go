// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package resource

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/caademo/caa/internal/web"
	"github.com/caademo/caa/jwt"
)

// TokenValidator validates a bearer access token.  *jwt.Validator is one.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (jwt.Claims, error)
}

type callerKey struct{}

// Caller is who called an API.
type Caller struct {
	Subject string
	Claims  jwt.Claims
}

// CallerFromContext returns the caller the auth middleware stored.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Bearer requires a valid bearer access token.  Failures are reported in an
// RFC 6750 WWW-Authenticate challenge: invalid_token with a 401 and
// insufficient_scope, naming the scopes, with a 403.
func Bearer(v TokenValidator, realm string, scopes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", challenge("Bearer", realm))
				web.WriteError(w, http.StatusUnauthorized, "invalid_request", "bearer token required")
				return
			}
			claims, err := v.Validate(r.Context(), raw)
			switch {
			case errors.Is(err, jwt.ErrInsufficientScope):
				w.Header().Set("WWW-Authenticate", challenge("Bearer", realm,
					"error", "insufficient_scope",
					"scope", strings.Join(scopes, " ")))
				web.WriteError(w, http.StatusForbidden, "insufficient_scope", jwt.ErrInsufficientScope.Error())
				return
			case err != nil:
				w.Header().Set("WWW-Authenticate", challenge("Bearer", realm,
					"error", "invalid_token",
					"error_description", errDescription(err)))
				web.WriteError(w, http.StatusUnauthorized, "invalid_token", errDescription(err))
				return
			}
			ctx := context.WithValue(r.Context(), callerKey{}, Caller{Subject: claims.Subject(), Claims: claims})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Basic requires the username and password.  Both are compared in constant
// time.
func Basic(username, password, realm string) func(http.Handler) http.Handler {
	wantUser, wantPass := sha256.Sum256([]byte(username)), sha256.Sum256([]byte(password))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			gotUser, gotPass := sha256.Sum256([]byte(u)), sha256.Sum256([]byte(p))
			userOK := subtle.ConstantTimeCompare(gotUser[:], wantUser[:]) == 1
			passOK := subtle.ConstantTimeCompare(gotPass[:], wantPass[:]) == 1
			if !ok || !userOK || !passOK {
				w.Header().Set("WWW-Authenticate", challenge("Basic", realm))
				web.WriteError(w, http.StatusUnauthorized, "unauthorized", "valid credentials required")
				return
			}
			ctx := context.WithValue(r.Context(), callerKey{}, Caller{Subject: u})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(h[7:])
	return t, t != ""
}

// challenge builds a WWW-Authenticate value; params are name, value pairs.
func challenge(scheme, realm string, params ...string) string {
	parts := []string{fmt.Sprintf(`realm="%s"`, escapeQuotes(realm))}
	for i := 0; i+1 < len(params); i += 2 {
		if params[i+1] == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf(`%s="%s"`, params[i], escapeQuotes(params[i+1])))
	}
	return scheme + " " + strings.Join(parts, ", ")
}

var tokenErrs = []error{
	jwt.ErrExpired,
	jwt.ErrNotYetValid,
	jwt.ErrMissingExpiry,
	jwt.ErrInvalidIssuer,
	jwt.ErrInvalidAudience,
	jwt.ErrInvalidSignature,
	jwt.ErrKeyNotFound,
	jwt.ErrUnsupportedAlg,
	jwt.ErrMalformed,
}

// errDescription names the failed check without the wrapped detail.
func errDescription(err error) string {
	for _, e := range tokenErrs {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return "token validation failed"
}

func escapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
