// Package agent implements the credential lifecycle for agent identities:
// registration, verification with brute-force lockout, rotation, and
// revocation. Plaintext secrets are returned exactly once at issuance and
// never stored or logged.
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/org/agentgate/internal/audit"
	"github.com/org/agentgate/internal/credential"
	"github.com/org/agentgate/internal/storage"
	"github.com/org/agentgate/pkg/models"
)

// ErrInvalidID is returned when a registration id fails the local@host shape
// or contains injection-suspect characters.
var ErrInvalidID = errors.New("invalid agent id")

// LockedError rejects verification while an agent's lockout deadline is in
// the future. It is raised before any hash comparison so a known-good prefix
// cannot be used to keep probing a locked account.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("agent locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Config tunes credential lifetime and lockout behaviour.
type Config struct {
	KeyExpiryDays     int
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	HashAlgorithm     string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		KeyExpiryDays:     90,
		MaxFailedAttempts: 5,
		LockoutDuration:   300 * time.Second,
		HashAlgorithm:     credential.AlgSHA256,
	}
}

// Service orchestrates the agent credential lifecycle over a storage backend.
type Service struct {
	store   storage.Backend
	auditor *audit.Logger
	cfg     Config
}

// NewService creates a Service. Zero-valued config fields fall back to the
// defaults.
func NewService(store storage.Backend, auditor *audit.Logger, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.KeyExpiryDays <= 0 {
		cfg.KeyExpiryDays = def.KeyExpiryDays
	}
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = def.MaxFailedAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = def.LockoutDuration
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = def.HashAlgorithm
	}
	return &Service{store: store, auditor: auditor, cfg: cfg}
}

// idPattern enforces the two-part local@host shape.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*@[A-Za-z0-9][A-Za-z0-9.-]*$`)

// ValidateID checks the id shape and rejects characters that could reach a
// downstream query layer. The storage backends use parameterized queries;
// this is an independent second line.
func ValidateID(id string) error {
	if strings.ContainsAny(id, `'";`) || strings.Contains(id, "--") {
		return ErrInvalidID
	}
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// RegisterParams carries the caller-supplied registration fields.
type RegisterParams struct {
	ID          string
	Department  string
	Permissions []string
	Lineage     storage.Lineage
}

// Register creates a new agent and issues its one-time credential, or — for
// an existing id — touches last_seen and any provided lineage/permission
// fields without touching the credential. The returned secret is empty on
// the existing-id path.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*models.Agent, string, error) {
	if err := ValidateID(p.ID); err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()

	existing, err := s.store.GetAgent(ctx, p.ID)
	if err == nil {
		if err := s.store.TouchAgent(ctx, p.ID, now, p.Lineage); err != nil {
			return nil, "", fmt.Errorf("touching agent: %w", err)
		}
		if p.Permissions != nil {
			if err := s.store.UpdatePermissions(ctx, p.ID, p.Permissions); err != nil {
				return nil, "", fmt.Errorf("updating permissions: %w", err)
			}
		}
		s.auditor.Record(ctx, p.ID, models.AuditAgentSeen, map[string]any{
			"department": existing.Department,
		})
		refreshed, err := s.store.GetAgent(ctx, p.ID)
		if err != nil {
			return nil, "", err
		}
		return refreshed, "", nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, "", err
	}

	secret, err := credential.GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	hash, err := credential.Hash(secret, s.cfg.HashAlgorithm)
	if err != nil {
		return nil, "", fmt.Errorf("hashing credential: %w", err)
	}
	prefix := credential.Prefix(secret)

	perms := p.Permissions
	if perms == nil {
		perms = []string{models.PermRead, models.PermWrite}
	}
	expiresAt := now.AddDate(0, 0, s.cfg.KeyExpiryDays)

	a := &models.Agent{
		ID:               p.ID,
		Department:       p.Department,
		Permissions:      perms,
		CredentialPrefix: &prefix,
		CredentialHash:   &hash,
		ExpiresAt:        &expiresAt,
		CreatedAt:        now,
		LastSeenAt:       now,
		SpawnedBy:        p.Lineage.SpawnedBy,
		BeadID:           p.Lineage.BeadID,
		Role:             p.Lineage.Role,
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		return nil, "", fmt.Errorf("creating agent: %w", err)
	}

	s.auditor.Record(ctx, p.ID, models.AuditAgentRegistered, map[string]any{
		"department":  p.Department,
		"permissions": perms,
		"expires_at":  expiresAt.Format(time.RFC3339),
	})
	return a, secret, nil
}

// FindByCredential resolves a bearer secret to its agent, or nil when no
// agent matches. Wrong credential and unknown credential are deliberately
// indistinguishable to the caller; the audit log records the real cause.
//
// The order is load-bearing: prefix lookup first (O(1), no audit on miss so
// the prefix space leaks nothing), then the lockout gate, and only then the
// hash comparison.
func (s *Service) FindByCredential(ctx context.Context, secret string) (*models.Agent, error) {
	a, err := s.store.GetAgentByPrefix(ctx, credential.Prefix(secret))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if a.IsLocked(now) {
		return nil, &LockedError{Until: *a.LockedUntil}
	}
	if !a.HasCredential() {
		return nil, nil
	}

	if credential.Verify(secret, *a.CredentialHash) {
		if a.CredentialExpired(now) {
			s.auditor.Record(ctx, a.ID, models.AuditKeyExpired, map[string]any{
				"expired_at": a.ExpiresAt.Format(time.RFC3339),
			})
			return nil, nil
		}
		if a.FailedAttempts > 0 {
			if err := s.store.ResetFailedAttempts(ctx, a.ID); err != nil {
				return nil, fmt.Errorf("resetting failed attempts: %w", err)
			}
			a.FailedAttempts = 0
		}
		return a, nil
	}

	attempts, lockedUntil, err := s.store.IncrementFailedAttempts(ctx, a.ID, s.cfg.MaxFailedAttempts, s.cfg.LockoutDuration)
	if err != nil {
		return nil, fmt.Errorf("recording failed attempt: %w", err)
	}
	if lockedUntil != nil {
		s.auditor.Record(ctx, a.ID, models.AuditAgentLocked, map[string]any{
			"failed_attempts": attempts,
			"locked_until":    lockedUntil.UTC().Format(time.RFC3339),
		})
	}
	s.auditor.Record(ctx, a.ID, models.AuditVerifyFailed, map[string]any{
		"failed_attempts": attempts,
	})
	return nil, nil
}

// Verify proves possession of a credential for a specific agent id. The id
// must match the resolved agent, so a secret that happens to share another
// agent's prefix-lookup path can never verify against it. The first success
// flips the verified flag; later successes are no-ops.
func (s *Service) Verify(ctx context.Context, id, secret string) (bool, error) {
	a, err := s.FindByCredential(ctx, secret)
	if err != nil {
		return false, err
	}
	if a == nil || a.ID != id {
		return false, nil
	}
	if !a.Verified {
		if err := s.store.SetVerified(ctx, a.ID, true); err != nil {
			return false, fmt.Errorf("marking verified: %w", err)
		}
		s.auditor.Record(ctx, a.ID, models.AuditVerifySuccess, nil)
	}
	return true, nil
}

// Rotate replaces an agent's credential, returning the fresh plaintext
// exactly once. The new credential is unproven, so verified resets to false.
// Returns storage.ErrNotFound when the agent does not exist; nothing is
// mutated in that case.
func (s *Service) Rotate(ctx context.Context, id string, expiryDays int) (string, error) {
	if _, err := s.store.GetAgent(ctx, id); err != nil {
		return "", err
	}
	if expiryDays <= 0 {
		expiryDays = s.cfg.KeyExpiryDays
	}

	secret, err := credential.GenerateSecret()
	if err != nil {
		return "", err
	}
	hash, err := credential.Hash(secret, s.cfg.HashAlgorithm)
	if err != nil {
		return "", fmt.Errorf("hashing credential: %w", err)
	}
	expiresAt := time.Now().UTC().AddDate(0, 0, expiryDays)

	if err := s.store.SetCredential(ctx, id, credential.Prefix(secret), hash, &expiresAt); err != nil {
		return "", fmt.Errorf("storing rotated credential: %w", err)
	}
	s.auditor.Record(ctx, id, models.AuditKeyRotated, map[string]any{
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	return secret, nil
}

// Revoke clears an agent's credential. Lockout and expiry fields are left
// alone: with no credential there is nothing to evaluate them against.
// Returns false when the agent does not exist.
func (s *Service) Revoke(ctx context.Context, id string) (bool, error) {
	if err := s.store.ClearCredential(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	s.auditor.Record(ctx, id, models.AuditKeyRevoked, nil)
	return true, nil
}

// Get returns an agent by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Agent, error) {
	return s.store.GetAgent(ctx, id)
}
