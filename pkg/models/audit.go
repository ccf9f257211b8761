package models

import "time"

// Audit actions recorded for security-relevant events.
const (
	AuditAgentRegistered = "agent_registered"
	AuditAgentSeen       = "agent_seen"
	AuditVerifySuccess   = "verify_success"
	AuditVerifyFailed    = "verify_failed"
	AuditAgentLocked     = "agent_locked"
	AuditKeyRotated      = "key_rotated"
	AuditKeyRevoked      = "key_revoked"
	AuditKeyExpired      = "key_expired"
)

// AuditEntry records a single security event. Entries are append-only;
// AgentID may reference an agent that no longer exists.
type AuditEntry struct {
	ID        int64
	AgentID   string
	Action    string
	Details   map[string]any
	CreatedAt time.Time
}
