// Copyright (c) 2025 La Comanda Ops
package server

import "net/http"

// handleHealth handles GET /api/v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"activeTenants": s.hub.ActiveTenants(),
	})
}
