package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/agentgate/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// Backend defines the persistence interface for the agent gate. All mutations
// are atomic with respect to concurrent callers; in particular
// IncrementFailedAttempts is a single read-modify-write so two concurrent
// verification failures cannot race the counter past the lock threshold.
type Backend interface {
	// Agents
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	// GetAgentByPrefix resolves an agent by its credential prefix. Backends
	// must serve this from an index, never a scan.
	GetAgentByPrefix(ctx context.Context, prefix string) (*models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) error

	// Field-level updates
	TouchAgent(ctx context.Context, id string, seenAt time.Time, lineage Lineage) error
	UpdatePermissions(ctx context.Context, id string, perms []string) error
	SetCredential(ctx context.Context, id, prefix, hash string, expiresAt *time.Time) error
	ClearCredential(ctx context.Context, id string) error
	SetVerified(ctx context.Context, id string, verified bool) error
	ResetFailedAttempts(ctx context.Context, id string) error
	// IncrementFailedAttempts bumps the counter by one and, if the new count
	// has reached max, sets locked_until = now + lockout. Returns the new
	// count and the lock deadline (nil when not locked).
	IncrementFailedAttempts(ctx context.Context, id string, max int, lockout time.Duration) (int, *time.Time, error)

	// Audit (append-only)
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Metrics helpers
	CountAgents(ctx context.Context) (int64, error)
	CountLockedAgents(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}

// Lineage carries the optional spawn metadata updated on registration.
// Nil fields are left untouched.
type Lineage struct {
	SpawnedBy *string
	BeadID    *string
	Role      *string
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	AgentID string
	Action  string
	Since   *time.Time
	Limit   int
	Offset  int
}
