package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxClientID contextKey = "client_id"
	ctxIsAdmin  contextKey = "is_admin"
)

// ClientIDFromContext returns the authenticated client, or uuid.Nil.
func ClientIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxClientID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func IsAdminFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(ctxIsAdmin).(bool)
	return v
}

// WithClient injects the authenticated client into the context.
func WithClient(ctx context.Context, clientID uuid.UUID, admin bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxClientID, clientID)
	return context.WithValue(ctx, ctxIsAdmin, admin)
}
