package authz

import (
	"context"

	"rent360.org/internal/auth"
)

// Identity supplies the user a request acts as.
type Identity interface {
	CurrentIdentity(ctx context.Context) (auth.User, bool)
}

// Authorizer answers access questions for the current identity.
type Authorizer struct {
	engine   *Engine
	identity Identity
}

func NewAuthorizer(engine *Engine, identity Identity) *Authorizer {
	return &Authorizer{engine: engine, identity: identity}
}

// AccessLevel is hidden when there is no identity.
func (a *Authorizer) AccessLevel(ctx context.Context, key string) Level {
	if a.identity == nil {
		return Hidden
	}
	user, ok := a.identity.CurrentIdentity(ctx)
	if !ok {
		return Hidden
	}
	return a.engine.AccessLevelForUser(ctx, user, key)
}

func (a *Authorizer) CanView(ctx context.Context, key string) bool {
	return a.CanAccess(ctx, key, Read)
}

func (a *Authorizer) CanWrite(ctx context.Context, key string) bool {
	return a.CanAccess(ctx, key, Write)
}

func (a *Authorizer) CanAccess(ctx context.Context, key string, min Level) bool {
	return a.AccessLevel(ctx, key).AtLeast(min)
}

// Permissions resolves every enabled permission for the current identity.
func (a *Authorizer) Permissions(ctx context.Context) map[string]Level {
	out := make(map[string]Level, len(Catalog))
	for _, d := range a.engine.EnabledPermissions() {
		out[d.Key] = a.AccessLevel(ctx, d.Key)
	}
	return out
}
