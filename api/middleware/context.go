package middleware

import "context"

// Actor is the authenticated caller as carried by the access token.
type Actor struct {
	UserID string
	Role   string
	Email  string
}

type actorKey struct{}

// ActorFromContext returns the caller set by Auth, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

func WithActor(ctx context.Context, a Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey{}, a)
}

func UserIDFromContext(ctx context.Context) string {
	a, _ := ActorFromContext(ctx)
	return a.UserID
}

func RoleFromContext(ctx context.Context) string {
	a, _ := ActorFromContext(ctx)
	return a.Role
}

// WithUserID and WithRole amend a single field of the current actor.
func WithUserID(ctx context.Context, userID string) context.Context {
	a, _ := ActorFromContext(ctx)
	a.UserID = userID
	return WithActor(ctx, a)
}

func WithRole(ctx context.Context, role string) context.Context {
	a, _ := ActorFromContext(ctx)
	a.Role = role
	return WithActor(ctx, a)
}
