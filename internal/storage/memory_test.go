package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/org/agentgate/pkg/models"
)

func newStoredAgent(t *testing.T, m *MemoryBackend, id, prefix string) {
	t.Helper()
	now := time.Now().UTC()
	hash := "sha256:deadbeef"
	a := &models.Agent{
		ID:               id,
		Department:       "eng",
		Permissions:      []string{models.PermRead, models.PermWrite},
		CredentialPrefix: &prefix,
		CredentialHash:   &hash,
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := m.CreateAgent(context.Background(), a); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
}

func TestMemoryPrefixIndex(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	newStoredAgent(t, m, "a@h", "prefix-aaaaa")

	a, err := m.GetAgentByPrefix(ctx, "prefix-aaaaa")
	if err != nil {
		t.Fatalf("GetAgentByPrefix failed: %v", err)
	}
	if a.ID != "a@h" {
		t.Errorf("expected a@h, got %s", a.ID)
	}

	if _, err := m.GetAgentByPrefix(ctx, "no-such"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Rotating the credential re-points the index
	if err := m.SetCredential(ctx, "a@h", "prefix-bbbbb", "sha256:cafe", nil); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}
	if _, err := m.GetAgentByPrefix(ctx, "prefix-aaaaa"); !errors.Is(err, ErrNotFound) {
		t.Error("old prefix should no longer resolve")
	}
	if _, err := m.GetAgentByPrefix(ctx, "prefix-bbbbb"); err != nil {
		t.Errorf("new prefix should resolve: %v", err)
	}
}

func TestMemoryCreateDuplicate(t *testing.T) {
	m := NewMemoryBackend()
	newStoredAgent(t, m, "a@h", "p1")
	a := &models.Agent{ID: "a@h"}
	if err := m.CreateAgent(context.Background(), a); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryClearCredential(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	newStoredAgent(t, m, "a@h", "p1")
	if err := m.SetVerified(ctx, "a@h", true); err != nil {
		t.Fatal(err)
	}
	if err := m.ClearCredential(ctx, "a@h"); err != nil {
		t.Fatalf("ClearCredential failed: %v", err)
	}
	a, _ := m.GetAgent(ctx, "a@h")
	if a.HasCredential() {
		t.Error("credential fields should be cleared")
	}
	if a.Verified {
		t.Error("verified should be reset on clear")
	}
	if _, err := m.GetAgentByPrefix(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Error("cleared prefix should not resolve")
	}
}

func TestMemoryIncrementLocksAtThreshold(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	newStoredAgent(t, m, "a@h", "p1")

	for i := 1; i < 5; i++ {
		attempts, lockedUntil, err := m.IncrementFailedAttempts(ctx, "a@h", 5, 5*time.Minute)
		if err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
		if attempts != i {
			t.Errorf("expected %d attempts, got %d", i, attempts)
		}
		if lockedUntil != nil {
			t.Errorf("should not lock before threshold (attempt %d)", i)
		}
	}
	attempts, lockedUntil, err := m.IncrementFailedAttempts(ctx, "a@h", 5, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 5 || lockedUntil == nil {
		t.Fatalf("expected lock at attempt 5, got attempts=%d locked=%v", attempts, lockedUntil)
	}
	if !lockedUntil.After(time.Now()) {
		t.Error("lock deadline should be in the future")
	}
}

func TestMemoryIncrementConcurrent(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	newStoredAgent(t, m, "a@h", "p1")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			m.IncrementFailedAttempts(ctx, "a@h", 1000, time.Minute) //nolint:errcheck
		}()
	}
	wg.Wait()

	a, err := m.GetAgent(ctx, "a@h")
	if err != nil {
		t.Fatal(err)
	}
	if a.FailedAttempts != n {
		t.Errorf("expected %d failed attempts, got %d (lost update)", n, a.FailedAttempts)
	}
}

func TestMemoryAuditQuery(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, action := range []string{models.AuditAgentRegistered, models.AuditVerifyFailed, models.AuditVerifyFailed} {
		m.AppendAudit(ctx, &models.AuditEntry{ //nolint:errcheck
			AgentID:   "a@h",
			Action:    action,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	m.AppendAudit(ctx, &models.AuditEntry{AgentID: "b@h", Action: models.AuditAgentRegistered, CreatedAt: base}) //nolint:errcheck

	entries, err := m.QueryAudit(ctx, AuditFilter{AgentID: "a@h", Action: models.AuditVerifyFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Newest first
	if !entries[0].CreatedAt.After(entries[1].CreatedAt) {
		t.Error("entries should be ordered newest first")
	}

	limited, _ := m.QueryAudit(ctx, AuditFilter{AgentID: "a@h", Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d entries", len(limited))
	}
}

func TestMemoryGetAgentReturnsCopy(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	newStoredAgent(t, m, "a@h", "p1")

	a, _ := m.GetAgent(ctx, "a@h")
	a.Department = "tampered"
	a.Permissions[0] = "tampered"

	fresh, _ := m.GetAgent(ctx, "a@h")
	if fresh.Department != "eng" || fresh.Permissions[0] != models.PermRead {
		t.Error("mutating a returned agent should not affect the store")
	}
}
