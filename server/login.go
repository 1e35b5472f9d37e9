// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"errors"
	"net/http"

	"github.com/caademo/caa/internal/web"
	"github.com/caademo/caa/oidc"
	"github.com/caademo/caa/session"
)

// handleLogin starts the authorization code flow.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := oidc.NewRequest(s.loginTimeout, s.provider.RedirectURL())
	if err != nil {
		s.internalError(w, "unable to create login request", err)
		return
	}
	authURL, err := s.provider.AuthURL(r.Context(), req)
	if err != nil {
		s.internalError(w, "unable to create auth url", err)
		return
	}
	if err := s.store.SaveLogin(w, r, req); err != nil {
		s.internalError(w, "unable to save login request", err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback completes the authorization code flow.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := s.store.TakeLogin(w, r)
	if err != nil {
		s.logger.Debug("callback without login request", "error", err)
		web.WriteError(w, http.StatusBadRequest, codeLoginFailed, "no login in progress; start at /login")
		return
	}
	if code := q.Get("error"); code != "" {
		web.WriteError(w, http.StatusUnauthorized, code, q.Get("error_description"))
		return
	}

	tk, err := s.provider.Exchange(r.Context(), req, q.Get("state"), q.Get("code"))
	switch {
	case errors.Is(err, oidc.ErrInvalidResponseState):
		web.WriteError(w, http.StatusBadRequest, codeInvalidState, "state does not match the login request")
		return
	case errors.Is(err, oidc.ErrExpiredRequest):
		web.WriteError(w, http.StatusBadRequest, codeLoginFailed, "login request expired; start again at /login")
		return
	case err != nil:
		s.logger.Error("login exchange failed", "error", err)
		web.WriteError(w, http.StatusBadGateway, codeLoginFailed, err.Error())
		return
	}

	u, err := session.NewUser(tk)
	if err != nil {
		s.internalError(w, "unable to read id_token", err)
		return
	}
	if err := s.store.SaveUser(w, r, u); err != nil {
		if errors.Is(err, session.ErrTooLarge) {
			s.logger.Error("tokens do not fit in the session cookie; reduce the claims the authorization server issues",
				"sub", u.Subject, "id_token_bytes", len(u.IDToken), "access_token_bytes", len(u.AccessToken), "error", err)
			web.WriteError(w, http.StatusInternalServerError, codeSessionTooLarge, "tokens are too large for the session cookie")
			return
		}
		s.internalError(w, "unable to save session", err)
		return
	}
	s.logger.Info("user signed in", "sub", u.Subject)
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout clears the session and, when the provider supports it, ends
// the provider's session too.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	u, _ := s.store.User(r)
	if err := s.store.Clear(w, r); err != nil {
		s.internalError(w, "unable to clear session", err)
		return
	}
	target := "/"
	if u != nil {
		if endURL, err := s.provider.EndSessionURL(u.IDToken, s.baseURL+"/"); err == nil {
			target = endURL
		}
		s.logger.Info("user signed out", "sub", u.Subject)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	web.WriteError(w, http.StatusInternalServerError, codeInternal, msg)
}
