package policy

import (
	"context"
	"errors"

	"github.com/org/agentgate/internal/storage"
	"github.com/org/agentgate/pkg/models"
)

// AgentGetter is the minimal interface the Engine needs from storage.
type AgentGetter interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
}

// Engine evaluates record-visibility access for a requesting agent.
type Engine struct {
	store AgentGetter
}

// NewEngine creates a policy Engine backed by the given storage.
func NewEngine(store AgentGetter) *Engine {
	return &Engine{store: store}
}

// CanAccess resolves the requesting agent and applies the visibility rules.
// An unknown requester is a plain deny, not an error.
func (e *Engine) CanAccess(ctx context.Context, requesterID string, res models.Resource) (bool, error) {
	agent, err := e.store.GetAgent(ctx, requesterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return Decide(agent, res), nil
}

// Decide is the pure access rule: the requester needs the read capability,
// then the resource's visibility level picks the scope.
//
//   - public:     any reader
//   - project:    any reader — project membership is not yet modeled, so
//     project scope is deliberately global for now
//   - department: readers in the resource's department
//   - private:    the owning agent only
//
// Unknown visibility values deny (closed-world default).
func Decide(agent *models.Agent, res models.Resource) bool {
	if !agent.HasPermission(models.PermRead) {
		return false
	}
	switch res.Visibility {
	case models.VisibilityPublic, models.VisibilityProject:
		return true
	case models.VisibilityDepartment:
		return agent.Department == res.Department
	case models.VisibilityPrivate:
		return agent.ID == res.OwnerID
	default:
		return false
	}
}
