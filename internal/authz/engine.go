package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"rent360.org/internal/auth"
	"rent360.org/internal/features"
	"rent360.org/internal/kv"
	"rent360.org/internal/obs"
	"rent360.org/internal/persist"
	"rent360.org/internal/stream"
)

// OverridesKey is the durable key of the email -> permission -> level map.
const OverridesKey = "r360_authorization_overrides"

var overridesSchema = persist.MustCompile("authorization-overrides", `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "additionalProperties": {"enum": ["hidden", "read", "write"]}
  }
}`)

// Overrides maps a normalized email to its per-permission levels.
type Overrides map[string]map[string]Level

func (o Overrides) clone() Overrides {
	out := make(Overrides, len(o))
	for email, perms := range o {
		m := make(map[string]Level, len(perms))
		for k, v := range perms {
			m[k] = v
		}
		out[email] = m
	}
	return out
}

// Engine resolves access levels from role templates, feature flags and
// per-user overrides.
type Engine struct {
	flags   features.Resolver
	store   kv.Store
	enabled bool
	static  Overrides

	mu        sync.Mutex
	loaded    bool
	overrides Overrides

	topic *stream.Topic[Overrides]
}

// Option configures an Engine.
type Option func(*Engine)

// WithOverrides toggles client permission overrides. They are on by default.
func WithOverrides(enabled bool) Option {
	return func(e *Engine) { e.enabled = enabled }
}

// WithStaticOverrides seeds overrides from configuration. Stored overrides
// for the same email and key take precedence. Invalid levels are skipped.
func WithStaticOverrides(raw map[string]map[string]string) Option {
	return func(e *Engine) {
		for email, perms := range raw {
			key := auth.NormalizeEmail(email)
			for perm, s := range perms {
				lvl, err := ParseLevel(s)
				if err != nil || key == "" {
					obs.Logger().WithFields(logrus.Fields{"email": email, "permission": perm, "level": s}).
						Warn("ignoring static permission override")
					continue
				}
				if e.static[key] == nil {
					e.static[key] = make(map[string]Level)
				}
				e.static[key][perm] = lvl
			}
		}
	}
}

// NewEngine builds an engine persisting overrides in store, normally the
// durable scope.
func NewEngine(flags features.Resolver, store kv.Store, opts ...Option) *Engine {
	e := &Engine{
		flags:   flags,
		store:   store,
		enabled: true,
		static:  make(Overrides),
		topic:   stream.NewLatest[Overrides](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OverridesEnabled reports whether per-user overrides take part in resolution.
func (e *Engine) OverridesEnabled() bool { return e.enabled }

// AccessLevelForUser resolves the effective level of key for user. It has no
// side effects beyond lazily loading stored overrides.
func (e *Engine) AccessLevelForUser(ctx context.Context, user auth.User, key string) Level {
	lvl := e.resolve(ctx, user, key)
	obs.ObserveAuthzDecision(string(lvl))
	return lvl
}

func (e *Engine) resolve(ctx context.Context, user auth.User, key string) Level {
	if !e.featureEnabled(key) {
		return Hidden
	}
	level := RoleLevel(user.Roles, key)
	if override, ok := e.UserOverride(ctx, user.Email, key); ok {
		return override
	}
	return level
}

// RoleLevel is the level granted by the permission default and the best of
// roles, ignoring features and overrides.
func RoleLevel(roles []auth.Role, key string) Level {
	level := FallbackAccess
	if def, ok := Lookup(key); ok && def.Default.Valid() {
		level = def.Default
	}
	for _, role := range roles {
		if byRole, ok := Templates[role][key]; ok && byRole.Rank() > level.Rank() {
			level = byRole
		}
	}
	return level
}

func (e *Engine) featureEnabled(key string) bool {
	def, ok := Lookup(key)
	if !ok || def.Feature == "" {
		return true
	}
	return e.flags != nil && e.flags.IsEnabled(def.Feature)
}

// UserOverride returns the override of key for email, if any.
func (e *Engine) UserOverride(ctx context.Context, email, key string) (Level, bool) {
	if !e.enabled {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.loadLocked(ctx)
	lvl, ok := e.overrides[auth.NormalizeEmail(email)][key]
	return lvl, ok
}

// UserOverrides returns a copy of every override for email.
func (e *Engine) UserOverrides(ctx context.Context, email string) map[string]Level {
	out := make(map[string]Level)
	if !e.enabled {
		return out
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.loadLocked(ctx)
	for k, v := range e.overrides[auth.NormalizeEmail(email)] {
		out[k] = v
	}
	return out
}

// SetUserOverride sets the override of key for email, or clears it when
// level is nil. Users left without overrides are pruned.
func (e *Engine) SetUserOverride(ctx context.Context, email, key string, level *Level) error {
	if !e.enabled {
		return nil
	}
	if level != nil && !level.Valid() {
		return ErrInvalidLevel
	}
	email = auth.NormalizeEmail(email)
	if email == "" || key == "" {
		return ErrInvalidOverride
	}

	e.mu.Lock()
	if err := e.loadLocked(ctx); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("load overrides: %w", err)
	}
	perms := e.overrides[email]
	if level == nil {
		delete(perms, key)
	} else {
		if perms == nil {
			perms = make(map[string]Level)
		}
		perms[key] = *level
	}
	if len(perms) == 0 {
		delete(e.overrides, email)
	} else {
		e.overrides[email] = perms
	}
	snap := e.persistLocked(ctx)
	e.mu.Unlock()

	e.topic.Publish(snap)
	return nil
}

// ClearUserOverrides removes every override for email.
func (e *Engine) ClearUserOverrides(ctx context.Context, email string) error {
	if !e.enabled {
		return nil
	}
	email = auth.NormalizeEmail(email)

	e.mu.Lock()
	if err := e.loadLocked(ctx); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("load overrides: %w", err)
	}
	if _, ok := e.overrides[email]; !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.overrides, email)
	snap := e.persistLocked(ctx)
	e.mu.Unlock()

	e.topic.Publish(snap)
	return nil
}

// EnabledPermissions lists catalog entries whose gating feature is on.
func (e *Engine) EnabledPermissions() []Definition {
	out := make([]Definition, 0, len(Catalog))
	for _, d := range Catalog {
		if e.featureEnabled(d.Key) {
			out = append(out, d)
		}
	}
	return out
}

// OverriddenUsers lists emails with at least one override, sorted.
func (e *Engine) OverriddenUsers(ctx context.Context) []string {
	if !e.enabled {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.loadLocked(ctx)
	out := make([]string, 0, len(e.overrides))
	for email := range e.overrides {
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

// SubscribeOverrides receives the whole override map after every change.
func (e *Engine) SubscribeOverrides(fn func(Overrides)) func() {
	return e.topic.Subscribe(fn)
}

func (e *Engine) persistLocked(ctx context.Context) Overrides {
	if len(e.overrides) == 0 {
		persist.Remove(ctx, e.store, OverridesKey)
	} else {
		persist.Save(ctx, e.store, OverridesKey, e.overrides)
	}
	return e.overrides.clone()
}

// loadLocked merges stored overrides over the static ones. When the store
// cannot be read the static set answers and the next call retries.
func (e *Engine) loadLocked(ctx context.Context) error {
	if e.loaded {
		return nil
	}
	e.overrides = e.static.clone()
	var stored map[string]map[string]Level
	found, err := persist.Load(ctx, e.store, OverridesKey, overridesSchema, &stored)
	if err != nil {
		return err
	}
	e.loaded = true
	if !found {
		return nil
	}
	for email, perms := range stored {
		key := auth.NormalizeEmail(email)
		if key == "" || len(perms) == 0 {
			continue
		}
		if e.overrides[key] == nil {
			e.overrides[key] = make(map[string]Level, len(perms))
		}
		for k, v := range perms {
			e.overrides[key][k] = v
		}
	}
	return nil
}
