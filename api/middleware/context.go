package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Actor is the authenticated caller behind a request.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
}

// CanActOn reports whether the actor may read or change an order owned by
// ownerID: its owner always, an admin for any order.
func (a Actor) CanActOn(ownerID uuid.UUID) bool {
	if a.UserID == uuid.Nil {
		return false
	}
	return a.Role == enums.RoleAdmin || a.UserID == ownerID
}

type actorKey struct{}

// WithActor stores the caller on ctx. Auth does this after verifying the
// token; tests call it directly.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the caller and false when the request never
// passed through Auth.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.UserID == uuid.Nil {
		return Actor{}, false
	}
	return actor, true
}

// UserIDFromContext is the caller's id as text, "" when unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.UserID.String()
	}
	return ""
}
