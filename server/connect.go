// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/caademo/caa/caa"
	"github.com/caademo/caa/connect"
	"github.com/caademo/caa/internal/web"
	"github.com/caademo/caa/sdk/id"
	"github.com/caademo/caa/session"
)

// connectSubject runs the resource's chain up to its federated connection
// step and returns the token that step was given, which is the token the My
// Account API accepts.  A nil error with a nil ConnectionRequiredError means
// the account is already connected.
func (s *Server) connectSubject(ctx context.Context, res Resource, u *session.User) (*caa.ConnectionRequiredError, error) {
	_, err := res.Chain.Run(ctx, subjectOf(u))
	if err == nil {
		return nil, nil
	}
	var connErr *caa.ConnectionRequiredError
	if errors.As(err, &connErr) {
		return connErr, nil
	}
	return nil, err
}

func (s *Server) connectedRedirect(w http.ResponseWriter, r *http.Request, name string) {
	http.Redirect(w, r, "/?connected="+url.QueryEscape(name), http.StatusFound)
}

// handleConnect starts connecting the account a resource's federated step
// needs.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resources[chi.URLParam(r, "name")]
	if !ok {
		web.WriteError(w, http.StatusNotFound, codeNotFound, "unknown resource "+chi.URLParam(r, "name"))
		return
	}
	if s.connect == nil {
		web.WriteError(w, http.StatusNotFound, codeNotFound, "connected accounts are not configured")
		return
	}
	u := userFrom(r.Context())

	connErr, err := s.connectSubject(r.Context(), res, u)
	switch {
	case err != nil:
		web.WriteError(w, http.StatusBadGateway, codeExchangeFailed, err.Error())
		return
	case connErr == nil:
		s.connectedRedirect(w, r, res.Name)
		return
	}

	state, err := id.New("cs")
	if err != nil {
		s.internalError(w, "unable to create state", err)
		return
	}
	verifier := oauth2.GenerateVerifier()
	redirectURI := s.baseURL + "/connect/callback"
	pending, err := s.connect.Start(r.Context(), connErr.SubjectToken.Value, connect.StartRequest{
		Connection:    connErr.Connection,
		RedirectURI:   redirectURI,
		State:         state,
		Scopes:        connErr.Scopes,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
	})
	if err != nil {
		s.logger.Warn("connect start failed", "resource", res.Name, "connection", connErr.Connection, "error", err)
		web.WriteError(w, http.StatusBadGateway, codeConnectFailed, err.Error())
		return
	}
	connectURL, err := pending.URL()
	if err != nil {
		web.WriteError(w, http.StatusBadGateway, codeConnectFailed, err.Error())
		return
	}

	expiry := pending.Expiry
	if expiry.IsZero() {
		expiry = s.now().Add(s.connectTimeout)
	}
	if err := s.store.SavePending(w, r, &session.Pending{
		Resource:     res.Name,
		Connection:   connErr.Connection,
		State:        state,
		AuthSession:  pending.AuthSession,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		Expiry:       expiry,
	}); err != nil {
		s.internalError(w, "unable to save pending connection", err)
		return
	}
	s.logger.Info("connect started", "resource", res.Name, "connection", connErr.Connection, "sub", u.Subject)
	http.Redirect(w, r, connectURL, http.StatusFound)
}

// handleConnectCallback completes connecting an account.
func (s *Server) handleConnectCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pending, err := s.store.TakePending(w, r)
	switch {
	case errors.Is(err, session.ErrExpired):
		web.WriteError(w, http.StatusBadRequest, codeConnectFailed, "connection attempt expired; start again")
		return
	case err != nil:
		web.WriteError(w, http.StatusBadRequest, codeConnectFailed, "no connection attempt in progress")
		return
	case q.Get("state") != pending.State:
		web.WriteError(w, http.StatusBadRequest, codeInvalidState, "state does not match the connection attempt")
		return
	case q.Get("error") != "":
		web.WriteError(w, http.StatusBadRequest, q.Get("error"), q.Get("error_description"))
		return
	case q.Get("connect_code") == "":
		web.WriteError(w, http.StatusBadRequest, codeConnectFailed, "missing connect_code")
		return
	}
	res, ok := s.resources[pending.Resource]
	if !ok || s.connect == nil {
		web.WriteError(w, http.StatusNotFound, codeNotFound, "unknown resource "+pending.Resource)
		return
	}
	u := userFrom(r.Context())

	connErr, err := s.connectSubject(r.Context(), res, u)
	switch {
	case err != nil:
		web.WriteError(w, http.StatusBadGateway, codeExchangeFailed, err.Error())
		return
	case connErr == nil:
		s.connectedRedirect(w, r, res.Name)
		return
	}

	acct, err := s.connect.Complete(r.Context(), connErr.SubjectToken.Value, connect.CompleteRequest{
		AuthSession:  pending.AuthSession,
		ConnectCode:  q.Get("connect_code"),
		RedirectURI:  pending.RedirectURI,
		CodeVerifier: pending.CodeVerifier,
	})
	if err != nil {
		s.logger.Warn("connect complete failed", "resource", res.Name, "connection", pending.Connection, "error", err)
		web.WriteError(w, http.StatusBadGateway, codeConnectFailed, err.Error())
		return
	}
	s.logger.Info("account connected", "resource", res.Name, "connection", acct.Connection, "sub", u.Subject)
	s.connectedRedirect(w, r, res.Name)
}
