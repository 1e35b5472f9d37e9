// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caademo/caa/caa"
	"github.com/caademo/caa/internal/web"
	"github.com/caademo/caa/session"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	reply := map[string]interface{}{
		"sub":    u.Subject,
		"email":  u.Email,
		"name":   u.Name,
		"expiry": u.Expiry,
	}
	if claims, err := u.IDToken.Claims(); err == nil {
		reply["id_token_claims"] = claims
	}
	web.WriteJSON(w, http.StatusOK, reply)
}

type resourceInfo struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Source      string     `json:"subject"`
	Steps       []caa.Kind `json:"steps"`
	APIURL      string     `json:"api_url"`
	AccessURL   string     `json:"access_url"`
}

func (s *Server) handleResources(w http.ResponseWriter, _ *http.Request) {
	infos := make([]resourceInfo, 0, len(s.order))
	for _, name := range s.order {
		res := s.resources[name]
		kinds := make([]caa.Kind, 0, len(res.Chain.Steps()))
		for _, st := range res.Chain.Steps() {
			kinds = append(kinds, st.Kind())
		}
		infos = append(infos, resourceInfo{
			Name:        res.Name,
			DisplayName: res.DisplayName,
			Source:      string(res.Chain.Source()),
			Steps:       kinds,
			APIURL:      res.API.URL,
			AccessURL:   "/api/resources/" + res.Name + "/access",
		})
	}
	web.WriteJSON(w, http.StatusOK, map[string]interface{}{"resources": infos})
}

// accessReply is the body of an access reply, successful or not.
type accessReply struct {
	Resource    string      `json:"resource"`
	Steps       []caa.Trace `json:"steps"`
	Status      int         `json:"status,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Error       string      `json:"error,omitempty"`
	Description string      `json:"error_description,omitempty"`
	Connection  string      `json:"connection,omitempty"`
	ConnectURL  string      `json:"connect_url,omitempty"`
}

// handleAccess runs the resource's chain and calls its API with the result.
func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resources[chi.URLParam(r, "name")]
	if !ok {
		web.WriteError(w, http.StatusNotFound, codeNotFound, "unknown resource "+chi.URLParam(r, "name"))
		return
	}
	u := userFrom(r.Context())

	result, err := res.Chain.Run(r.Context(), subjectOf(u))
	reply := accessReply{Resource: res.Name, Steps: result.Trace}
	if err != nil {
		var connErr *caa.ConnectionRequiredError
		if errors.As(err, &connErr) {
			reply.Error = codeConnectionRequired
			reply.Description = "connect your " + connErr.Connection + " account to continue"
			reply.Connection = connErr.Connection
			reply.ConnectURL = s.baseURL + "/connect/" + res.Name
			web.WriteJSON(w, http.StatusConflict, reply)
			return
		}
		s.logger.Warn("chain failed", "resource", res.Name, "sub", u.Subject, "error", err)
		reply.Error = codeExchangeFailed
		reply.Description = err.Error()
		web.WriteJSON(w, http.StatusBadGateway, reply)
		return
	}

	apiResp, err := s.caller.Call(r.Context(), res.API, result.Final)
	if err != nil {
		s.logger.Warn("resource api failed", "resource", res.Name, "sub", u.Subject, "error", err)
		reply.Error = codeAPIFailed
		reply.Description = err.Error()
		var apiErr *caa.APIError
		if errors.As(err, &apiErr) {
			reply.Status = apiErr.StatusCode
			reply.Data = apiErr.Body
		}
		web.WriteJSON(w, http.StatusBadGateway, reply)
		return
	}
	s.logger.Info("resource accessed", "resource", res.Name, "sub", u.Subject, "steps", len(result.Trace))
	reply.Status = apiResp.StatusCode
	reply.Data = apiResp.Body
	web.WriteJSON(w, http.StatusOK, reply)
}

func subjectOf(u *session.User) caa.Subject {
	sub := caa.Subject{
		IDToken:     string(u.IDToken),
		AccessToken: string(u.AccessToken),
	}
	sub.Claims, _ = u.IDToken.Claims()
	return sub
}
