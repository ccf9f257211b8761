package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/agentgate/internal/agent"
	"github.com/org/agentgate/internal/storage"
	"github.com/org/agentgate/pkg/models"
)

// agentView is the JSON shape of an agent. Credential hash and prefix never
// leave the server.
func agentView(a *models.Agent) map[string]any {
	v := map[string]any{
		"id":              a.ID,
		"department":      a.Department,
		"permissions":     a.Permissions,
		"verified":        a.Verified,
		"failed_attempts": a.FailedAttempts,
		"has_credential":  a.HasCredential(),
		"created_at":      a.CreatedAt.Format(time.RFC3339),
		"last_seen_at":    a.LastSeenAt.Format(time.RFC3339),
	}
	if a.LockedUntil != nil {
		v["locked_until"] = a.LockedUntil.UTC().Format(time.RFC3339)
	}
	if a.ExpiresAt != nil {
		v["expires_at"] = a.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if a.SpawnedBy != nil {
		v["spawned_by"] = *a.SpawnedBy
	}
	if a.BeadID != nil {
		v["bead_id"] = *a.BeadID
	}
	if a.Role != nil {
		v["role"] = *a.Role
	}
	return v
}

// RegisterHandler handles POST /v1/agents/register
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string   `json:"id"`
		Department  string   `json:"department"`
		Permissions []string `json:"permissions"`
		SpawnedBy   *string  `json:"spawned_by"`
		BeadID      *string  `json:"bead_id"`
		Role        *string  `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, secret, err := s.agents.Register(r.Context(), agent.RegisterParams{
		ID:          req.ID,
		Department:  req.Department,
		Permissions: req.Permissions,
		Lineage: storage.Lineage{
			SpawnedBy: req.SpawnedBy,
			BeadID:    req.BeadID,
			Role:      req.Role,
		},
	})
	if err != nil {
		if errors.Is(err, agent.ErrInvalidID) {
			writeError(w, http.StatusBadRequest, "invalid agent id format")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"agent": agentView(a)}
	if secret != "" {
		// Shown once; the plaintext is never stored or returned again.
		resp["secret"] = secret
	}
	writeJSON(w, http.StatusOK, resp)
}

// SelfHandler handles GET /v1/agents/self
func (s *Server) SelfHandler(w http.ResponseWriter, r *http.Request) {
	a := agentFromCtx(r.Context())
	if a == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agentView(a)})
}

// AgentGetHandler handles GET /v1/agents/{id}
func (s *Server) AgentGetHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.agents.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agentView(a)})
}

// VerifyHandler handles POST /v1/agents/{id}/verify
func (s *Server) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Secret string `json:"secret"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "secret required")
		return
	}

	ok, err := s.agents.Verify(r.Context(), id, req.Secret)
	if err != nil {
		var locked *agent.LockedError
		if errors.As(err, &locked) {
			lockoutsTotal.Inc()
			w.Header().Set("Retry-After", locked.Until.UTC().Format(http.TimeFormat))
			writeError(w, http.StatusForbidden, locked.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": ok})
}

// canManage reports whether the authenticated agent may rotate or revoke the
// target credential: itself, or any agent holding the write capability.
func canManage(actor *models.Agent, targetID string) bool {
	return actor.ID == targetID || actor.HasPermission(models.PermWrite)
}

// RotateHandler handles POST /v1/agents/{id}/rotate
func (s *Server) RotateHandler(w http.ResponseWriter, r *http.Request) {
	actor := agentFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := chi.URLParam(r, "id")
	if !canManage(actor, id) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	var req struct {
		ExpiryDays int `json:"expiry_days"`
	}
	decodeJSON(r, &req) //nolint:errcheck

	secret, err := s.agents.Rotate(r.Context(), id, req.ExpiryDays)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secret": secret})
}

// RevokeHandler handles POST /v1/agents/{id}/revoke
func (s *Server) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	actor := agentFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := chi.URLParam(r, "id")
	if !canManage(actor, id) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	ok, err := s.agents.Revoke(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
