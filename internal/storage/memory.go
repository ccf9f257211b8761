package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/org/agentgate/pkg/models"
)

// MemoryBackend is an in-process Backend used for dev mode and tests. All
// mutations run under one mutex, which gives the same serialization the
// postgres backend gets from single-statement updates.
type MemoryBackend struct {
	mu       sync.Mutex
	agents   map[string]*models.Agent // keyed by id
	byPrefix map[string]string        // credential_prefix → id
	audit    []*models.AuditEntry
	nextID   int64
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		agents:   map[string]*models.Agent{},
		byPrefix: map[string]string{},
	}
}

func (m *MemoryBackend) Close() {}

func (m *MemoryBackend) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAgent(a), nil
}

func (m *MemoryBackend) GetAgentByPrefix(_ context.Context, prefix string) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPrefix[prefix]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAgent(m.agents[id]), nil
}

func (m *MemoryBackend) CreateAgent(_ context.Context, a *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; ok {
		return ErrAlreadyExists
	}
	stored := copyAgent(a)
	m.agents[a.ID] = stored
	if stored.CredentialPrefix != nil {
		m.byPrefix[*stored.CredentialPrefix] = stored.ID
	}
	return nil
}

func (m *MemoryBackend) TouchAgent(_ context.Context, id string, seenAt time.Time, lineage Lineage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.LastSeenAt = seenAt
	if lineage.SpawnedBy != nil {
		a.SpawnedBy = lineage.SpawnedBy
	}
	if lineage.BeadID != nil {
		a.BeadID = lineage.BeadID
	}
	if lineage.Role != nil {
		a.Role = lineage.Role
	}
	return nil
}

func (m *MemoryBackend) UpdatePermissions(_ context.Context, id string, perms []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Permissions = append([]string(nil), perms...)
	return nil
}

func (m *MemoryBackend) SetCredential(_ context.Context, id, prefix, hash string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	if a.CredentialPrefix != nil {
		delete(m.byPrefix, *a.CredentialPrefix)
	}
	a.CredentialPrefix = &prefix
	a.CredentialHash = &hash
	a.ExpiresAt = expiresAt
	a.Verified = false
	a.FailedAttempts = 0
	m.byPrefix[prefix] = id
	return nil
}

func (m *MemoryBackend) ClearCredential(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	if a.CredentialPrefix != nil {
		delete(m.byPrefix, *a.CredentialPrefix)
	}
	a.CredentialPrefix = nil
	a.CredentialHash = nil
	a.Verified = false
	return nil
}

func (m *MemoryBackend) SetVerified(_ context.Context, id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Verified = verified
	return nil
}

func (m *MemoryBackend) ResetFailedAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.FailedAttempts = 0
	return nil
}

func (m *MemoryBackend) IncrementFailedAttempts(_ context.Context, id string, max int, lockout time.Duration) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return 0, nil, ErrNotFound
	}
	a.FailedAttempts++
	if a.FailedAttempts >= max {
		until := time.Now().Add(lockout)
		a.LockedUntil = &until
		return a.FailedAttempts, &until, nil
	}
	return a.FailedAttempts, nil, nil
}

func (m *MemoryBackend) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e := *entry
	e.ID = m.nextID
	m.audit = append(m.audit, &e)
	return nil
}

func (m *MemoryBackend) QueryAudit(_ context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []*models.AuditEntry
	for _, e := range m.audit {
		if filter.AgentID != "" && e.AgentID != filter.AgentID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[filter.Offset:]
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

func (m *MemoryBackend) CountAgents(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.agents)), nil
}

func (m *MemoryBackend) CountLockedAgents(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var count int64
	for _, a := range m.agents {
		if a.IsLocked(now) {
			count++
		}
	}
	return count, nil
}

func copyAgent(a *models.Agent) *models.Agent {
	c := *a
	c.Permissions = append([]string(nil), a.Permissions...)
	return &c
}
