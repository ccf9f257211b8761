package audit

import (
	"context"
	"time"

	"github.com/org/agentgate/internal/storage"
	"github.com/org/agentgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Logger appends security events to the audit trail.
type Logger struct {
	store storage.Backend
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.Backend) *Logger {
	return &Logger{store: store}
}

// Record appends one audit entry. Plaintext secrets must NEVER be passed in
// details — only metadata. Write failures are logged and swallowed: the
// audit trail must not turn into a reliability hazard for the operation it
// records.
func (l *Logger) Record(ctx context.Context, agentID, action string, details map[string]any) {
	entry := &models.AuditEntry{
		AgentID:   agentID,
		Action:    action,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.AppendAudit(ctx, entry); err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Str("action", action).Msg("audit write failed")
	}
}

// Query retrieves paginated audit log entries.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return l.store.QueryAudit(ctx, filter)
}
