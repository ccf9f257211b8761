package api

import (
	"net/http"

	"github.com/org/agentgate/pkg/models"
)

// AccessCheckHandler handles POST /v1/access/check
func (s *Server) AccessCheckHandler(w http.ResponseWriter, r *http.Request) {
	actor := agentFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		OwnerID    string `json:"owner_id"`
		Department string `json:"department"`
		Visibility string `json:"visibility"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	allowed, err := s.policy.CanAccess(r.Context(), actor.ID, models.Resource{
		OwnerID:    req.OwnerID,
		Department: req.Department,
		Visibility: req.Visibility,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}
