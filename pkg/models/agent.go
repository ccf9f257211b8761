package models

import (
	"strings"
	"time"
)

// Permission constants for agent capability tokens.
const (
	PermRead  = "read"
	PermWrite = "write"
)

// Visibility levels for stored resources.
const (
	VisibilityPrivate    = "private"
	VisibilityDepartment = "department"
	VisibilityProject    = "project"
	VisibilityPublic     = "public"
)

// Agent is one authenticated identity. IDs follow a local-part@host-part
// shape and are immutable once created.
type Agent struct {
	ID               string
	Department       string
	Permissions      []string
	CredentialPrefix *string
	CredentialHash   *string
	Verified         bool
	FailedAttempts   int
	LockedUntil      *time.Time
	ExpiresAt        *time.Time
	CreatedAt        time.Time
	LastSeenAt       time.Time

	// Lineage metadata, free-form and uninterpreted.
	SpawnedBy *string
	BeadID    *string
	Role      *string
}

// HasPermission returns true if the agent holds the given capability token.
func (a *Agent) HasPermission(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasCredential returns true if the agent currently has an active credential.
func (a *Agent) HasCredential() bool {
	return a.CredentialPrefix != nil && a.CredentialHash != nil
}

// IsLocked returns true while the lockout deadline is in the future.
func (a *Agent) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// CredentialExpired returns true once the credential expiry has passed.
func (a *Agent) CredentialExpired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// JoinPermissions encodes a permission set for storage as a delimited list.
func JoinPermissions(perms []string) string {
	return strings.Join(perms, ",")
}

// SplitPermissions decodes a stored delimited permission list.
func SplitPermissions(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Resource describes a stored record for access-policy decisions.
type Resource struct {
	OwnerID    string
	Department string
	Visibility string
}
