// Package logging carries request-scoped identity through context so log
// entries and authorization checks see the same actor.
package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// ActorIDKey holds the authenticated user id.
	ActorIDKey contextKey = "actor_id"
	// ActorRoleKey holds the authenticated user's role.
	ActorRoleKey contextKey = "actor_role"
	// TraceIDKey holds the request trace id.
	TraceIDKey contextKey = "trace_id"
)

// WithActor stores the authenticated actor on ctx.
func WithActor(ctx context.Context, id, role string) context.Context {
	ctx = context.WithValue(ctx, ActorIDKey, id)
	return context.WithValue(ctx, ActorRoleKey, role)
}

// ActorID returns the authenticated actor id, or "".
func ActorID(ctx context.Context) string {
	v, _ := ctx.Value(ActorIDKey).(string)
	return v
}

// ActorRole returns the authenticated actor role, or "".
func ActorRole(ctx context.Context) string {
	v, _ := ctx.Value(ActorRoleKey).(string)
	return v
}

// WithTraceID stores id on ctx, generating one when id is empty.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, TraceIDKey, id)
}

// TraceID returns the request trace id, or "".
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}
