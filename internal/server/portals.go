package server

import (
	"encoding/json"
	"net/http"

	"github.com/sirosfoundation/go-dfe/pkg/portal"
)

// ResolvePortalRequest is the body of POST /api/portals/{id}/resolve
type ResolvePortalRequest struct {
	Period   string `json:"period"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleListPortals(w http.ResponseWriter, r *http.Request) {
	ids := s.portals.IDs()
	scripts := make([]*portal.Script, 0, len(ids))
	for _, id := range ids {
		if script := s.portals.Get(id); script != nil {
			scripts = append(scripts, script)
		}
	}
	s.jsonResponse(w, map[string]any{
		"portals": scripts,
		"total":   len(scripts),
	}, http.StatusOK)
}

func (s *Server) handleResolvePortal(w http.ResponseWriter, r *http.Request) {
	script := s.portals.Get(r.PathValue("id"))
	if script == nil {
		s.jsonError(w, "portal not found", http.StatusNotFound)
		return
	}

	var req ResolvePortalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	period, err := portal.ParsePeriod(req.Period)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	steps, err := script.Resolve(period, portal.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.jsonResponse(w, map[string]any{
		"success": true,
		"id":      script.ID,
		"url":     script.URL,
		"period":  period.String(),
		"steps":   steps,
	}, http.StatusOK)
}
