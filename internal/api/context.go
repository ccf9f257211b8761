package api

import (
	"context"

	"github.com/org/agentgate/pkg/models"
)

type contextKey string

const (
	ctxKeyAgent     contextKey = "agent"
	ctxKeyRequestID contextKey = "request_id"
)

func withAgent(ctx context.Context, a *models.Agent) context.Context {
	return context.WithValue(ctx, ctxKeyAgent, a)
}

func agentFromCtx(ctx context.Context) *models.Agent {
	a, _ := ctx.Value(ctxKeyAgent).(*models.Agent)
	return a
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
