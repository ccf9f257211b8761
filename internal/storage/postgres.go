package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/agentgate/pkg/models"
)

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Agents ---

const agentColumns = `id, department, permissions, credential_prefix, credential_hash,
	verified, failed_attempts, locked_until, expires_at, created_at, last_seen_at,
	spawned_by, bead_id, role`

func (p *PostgresBackend) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`,
		id,
	)
	return scanAgent(row)
}

func (p *PostgresBackend) GetAgentByPrefix(ctx context.Context, prefix string) (*models.Agent, error) {
	// credential_prefix carries a unique index; this is a point lookup.
	row := p.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE credential_prefix = $1`,
		prefix,
	)
	return scanAgent(row)
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	var perms string
	err := row.Scan(&a.ID, &a.Department, &perms, &a.CredentialPrefix, &a.CredentialHash,
		&a.Verified, &a.FailedAttempts, &a.LockedUntil, &a.ExpiresAt, &a.CreatedAt, &a.LastSeenAt,
		&a.SpawnedBy, &a.BeadID, &a.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Permissions = models.SplitPermissions(perms)
	return &a, nil
}

func (p *PostgresBackend) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO agents (id, department, permissions, credential_prefix, credential_hash,
		                     verified, failed_attempts, locked_until, expires_at, created_at, last_seen_at,
		                     spawned_by, bead_id, role)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.Department, models.JoinPermissions(a.Permissions), a.CredentialPrefix, a.CredentialHash,
		a.Verified, a.FailedAttempts, a.LockedUntil, a.ExpiresAt, a.CreatedAt, a.LastSeenAt,
		a.SpawnedBy, a.BeadID, a.Role,
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresBackend) TouchAgent(ctx context.Context, id string, seenAt time.Time, lineage Lineage) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE agents
		 SET last_seen_at = $2,
		     spawned_by = COALESCE($3, spawned_by),
		     bead_id = COALESCE($4, bead_id),
		     role = COALESCE($5, role)
		 WHERE id = $1`,
		id, seenAt, lineage.SpawnedBy, lineage.BeadID, lineage.Role,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) UpdatePermissions(ctx context.Context, id string, perms []string) error {
	return p.execAgentUpdate(ctx,
		`UPDATE agents SET permissions = $2 WHERE id = $1`,
		id, models.JoinPermissions(perms),
	)
}

func (p *PostgresBackend) SetCredential(ctx context.Context, id, prefix, hash string, expiresAt *time.Time) error {
	return p.execAgentUpdate(ctx,
		`UPDATE agents
		 SET credential_prefix = $2, credential_hash = $3, expires_at = $4,
		     verified = FALSE, failed_attempts = 0
		 WHERE id = $1`,
		id, prefix, hash, expiresAt,
	)
}

func (p *PostgresBackend) ClearCredential(ctx context.Context, id string) error {
	return p.execAgentUpdate(ctx,
		`UPDATE agents
		 SET credential_prefix = NULL, credential_hash = NULL, verified = FALSE
		 WHERE id = $1`,
		id,
	)
}

func (p *PostgresBackend) SetVerified(ctx context.Context, id string, verified bool) error {
	return p.execAgentUpdate(ctx,
		`UPDATE agents SET verified = $2 WHERE id = $1`,
		id, verified,
	)
}

func (p *PostgresBackend) ResetFailedAttempts(ctx context.Context, id string) error {
	return p.execAgentUpdate(ctx,
		`UPDATE agents SET failed_attempts = 0 WHERE id = $1`,
		id,
	)
}

// IncrementFailedAttempts is one UPDATE so the increment-then-maybe-lock
// sequence cannot interleave between two concurrent verification failures.
func (p *PostgresBackend) IncrementFailedAttempts(ctx context.Context, id string, max int, lockout time.Duration) (int, *time.Time, error) {
	row := p.pool.QueryRow(ctx,
		`UPDATE agents
		 SET failed_attempts = failed_attempts + 1,
		     locked_until = CASE
		       WHEN failed_attempts + 1 >= $2 THEN NOW() + make_interval(secs => $3)
		       ELSE locked_until
		     END
		 WHERE id = $1
		 RETURNING failed_attempts, locked_until`,
		id, max, lockout.Seconds(),
	)
	var attempts int
	var lockedUntil *time.Time
	if err := row.Scan(&attempts, &lockedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, err
	}
	if attempts < max {
		// A stale deadline from an earlier lockout is not this increment's lock.
		lockedUntil = nil
	}
	return attempts, lockedUntil, nil
}

func (p *PostgresBackend) execAgentUpdate(ctx context.Context, sql string, args ...any) error {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Audit ---

func (p *PostgresBackend) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO audit_log (agent_id, action, details, created_at)
		 VALUES ($1, $2, $3, $4)`,
		entry.AgentID, entry.Action, detailsJSON, entry.CreatedAt,
	)
	return err
}

func (p *PostgresBackend) QueryAudit(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, agent_id, action, details, created_at FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.AgentID != "" {
		fmt.Fprintf(&query, ` AND agent_id = $%d`, n)
		args = append(args, filter.AgentID)
		n++
	}
	if filter.Action != "" {
		fmt.Fprintf(&query, ` AND action = $%d`, n)
		args = append(args, filter.Action)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND created_at >= $%d`, n)
		args = append(args, filter.Since)
		n++
	}
	query.WriteString(` ORDER BY created_at DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Action, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		json.Unmarshal(detailsJSON, &e.Details) //nolint:errcheck
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Metrics ---

func (p *PostgresBackend) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	return count, err
}

func (p *PostgresBackend) CountLockedAgents(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agents WHERE locked_until IS NOT NULL AND locked_until > NOW()`,
	).Scan(&count)
	return count, err
}
