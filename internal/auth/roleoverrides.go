package auth

import (
	"context"
	"fmt"
	"sync"

	"rent360.org/internal/kv"
	"rent360.org/internal/persist"
	"rent360.org/internal/stream"
)

// RoleOverridesKey is the durable key of the email -> roles map.
const RoleOverridesKey = "r360_role_overrides"

var roleOverridesSchema = persist.MustCompile("role-overrides", `{
  "type": "object",
  "additionalProperties": {
    "type": "array",
    "items": {"type": "string"}
  }
}`)

// RoleOverrides lets an operator replace the fixture roles of a user. When
// disabled every mutation is a no-op and every read reports no override.
type RoleOverrides struct {
	store   kv.Store
	enabled bool

	mu     sync.Mutex
	loaded bool
	byUser map[string][]Role

	topic *stream.Topic[map[string][]Role]
}

// NewRoleOverrides reads and writes through store, normally the durable scope.
func NewRoleOverrides(store kv.Store, enabled bool) *RoleOverrides {
	return &RoleOverrides{
		store:   store,
		enabled: enabled,
		topic:   stream.NewLatest[map[string][]Role](),
	}
}

func (o *RoleOverrides) Enabled() bool { return o.enabled }

// AvailableRoles lists assignable roles.
func (o *RoleOverrides) AvailableRoles() []RoleOption {
	return AvailableRoles()
}

// UserRoleOverride returns the override for email, if any.
func (o *RoleOverrides) UserRoleOverride(ctx context.Context, email string) ([]Role, bool) {
	if !o.enabled {
		return nil, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.loadLocked(ctx)
	roles, ok := o.byUser[NormalizeEmail(email)]
	if !ok {
		return nil, false
	}
	return append([]Role(nil), roles...), true
}

// All returns a copy of every override.
func (o *RoleOverrides) All(ctx context.Context) map[string][]Role {
	if !o.enabled {
		return map[string][]Role{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.loadLocked(ctx)
	return o.snapshotLocked()
}

// SetUserRoles stores the normalized role list for email and returns it.
// Disabled stores return nil.
func (o *RoleOverrides) SetUserRoles(ctx context.Context, email string, roles []Role) ([]Role, error) {
	if !o.enabled {
		return nil, nil
	}
	key := NormalizeEmail(email)
	if key == "" {
		return nil, ErrInvalidInput
	}
	normalized := NormalizeRoles(roles)

	o.mu.Lock()
	if err := o.loadLocked(ctx); err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("load role overrides: %w", err)
	}
	o.byUser[key] = normalized
	persist.Save(ctx, o.store, RoleOverridesKey, o.byUser)
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.topic.Publish(snap)
	return append([]Role(nil), normalized...), nil
}

// ClearUserRoleOverride drops the override for email.
func (o *RoleOverrides) ClearUserRoleOverride(ctx context.Context, email string) error {
	if !o.enabled {
		return nil
	}
	key := NormalizeEmail(email)

	o.mu.Lock()
	if err := o.loadLocked(ctx); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("load role overrides: %w", err)
	}
	if _, ok := o.byUser[key]; !ok {
		o.mu.Unlock()
		return nil
	}
	delete(o.byUser, key)
	if len(o.byUser) == 0 {
		persist.Remove(ctx, o.store, RoleOverridesKey)
	} else {
		persist.Save(ctx, o.store, RoleOverridesKey, o.byUser)
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.topic.Publish(snap)
	return nil
}

// Apply returns u with its roles replaced by the override, if one exists.
func (o *RoleOverrides) Apply(ctx context.Context, u User) User {
	u = cloneUser(u)
	if roles, ok := o.UserRoleOverride(ctx, u.Email); ok {
		u.Roles = roles
	}
	return u
}

// Subscribe receives the override map after every change.
func (o *RoleOverrides) Subscribe(fn func(map[string][]Role)) func() {
	return o.topic.Subscribe(fn)
}

// loadLocked reads the stored overrides once. A store that cannot be read
// leaves the map empty and unloaded so the next call retries.
func (o *RoleOverrides) loadLocked(ctx context.Context) error {
	if o.loaded {
		return nil
	}
	o.byUser = make(map[string][]Role)
	var stored map[string][]string
	found, err := persist.Load(ctx, o.store, RoleOverridesKey, roleOverridesSchema, &stored)
	if err != nil {
		return err
	}
	o.loaded = true
	if !found {
		return nil
	}
	for email, roles := range stored {
		key := NormalizeEmail(email)
		if key == "" {
			continue
		}
		o.byUser[key] = NormalizeRoles(roles)
	}
	return nil
}

func (o *RoleOverrides) snapshotLocked() map[string][]Role {
	out := make(map[string][]Role, len(o.byUser))
	for k, v := range o.byUser {
		out[k] = append([]Role(nil), v...)
	}
	return out
}
