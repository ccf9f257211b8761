package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/agentgate/internal/storage"
	"github.com/org/agentgate/pkg/models"
)

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agents, err := s.store.CountAgents(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	locked, err := s.store.CountLockedAgents(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	agentsTotal.Set(float64(agents))
	lockedAgentsTotal.Set(float64(locked))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"agents":        agents,
		"locked_agents": locked,
	})
}

// AuditLogHandler handles GET /v1/sys/audit-log
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	actor := agentFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !actor.HasPermission(models.PermRead) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	q := r.URL.Query()
	filter := storage.AuditFilter{
		AgentID: q.Get("agent_id"),
		Action:  q.Get("action"),
		Limit:   100,
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			filter.Offset = n
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err == nil {
			filter.Since = &t
		}
	}

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}
