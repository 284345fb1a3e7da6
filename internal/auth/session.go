package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rent360.org/internal/kv"
	"rent360.org/internal/obs"
	"rent360.org/internal/persist"
	"rent360.org/internal/stream"
)

const (
	// SessionKey is the key of the session record inside a session scope.
	SessionKey = "r360_auth_session"
	// DefaultSessionTTL bounds how long a login stays valid.
	DefaultSessionTTL = 8 * time.Hour
)

type sessionRecord struct {
	User      User  `json:"user"`
	ExpiresAt int64 `json:"expiresAt"`
}

var sessionSchema = persist.MustCompile("session", `{
  "type": "object",
  "required": ["user", "expiresAt"],
  "properties": {
    "user": {
      "type": "object",
      "required": ["email", "roles"],
      "properties": {
        "email": {"type": "string", "minLength": 1},
        "roles": {"type": "array", "items": {"type": "string"}}
      }
    },
    "expiresAt": {"type": "integer", "exclusiveMinimum": 0}
  }
}`)

// Registration is the self-service sign-up payload.
type Registration struct {
	FullName     string   `json:"fullName"`
	Email        string   `json:"email"`
	Password     string   `json:"password"`
	MobileNumber string   `json:"mobileNumber"`
	Address      string   `json:"address"`
	Currency     Currency `json:"currency"`
	Roles        []Role   `json:"roles"`
}

// Session holds the identity of one console session. The stored user is a
// detached snapshot: role override changes reach it only through
// SetUserRoles and ClearUserRoleOverride on the same session.
type Session struct {
	id    string
	store kv.Store
	dir   *Directory
	roles *RoleOverrides
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	loaded bool
	rec    *sessionRecord

	topic *stream.Topic[*User]
}

func newSession(id string, store kv.Store, dir *Directory, roles *RoleOverrides, ttl time.Duration, now func() time.Time) *Session {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Session{
		id:    id,
		store: store,
		dir:   dir,
		roles: roles,
		ttl:   ttl,
		now:   now,
		topic: stream.NewLatest[*User](),
	}
}

func (s *Session) ID() string { return s.id }

// Login authenticates against the directory and starts the session.
func (s *Session) Login(ctx context.Context, email, password string) (User, error) {
	user, err := s.dir.Authenticate(ctx, email, password)
	if err != nil {
		return User{}, err
	}
	s.set(ctx, user)
	return cloneUser(user), nil
}

// Register creates a user from the payload and starts the session with it.
func (s *Session) Register(ctx context.Context, in Registration) (User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(in.Email)
	if in.FullName == "" || in.Email == "" || !strings.Contains(in.Email, "@") {
		return User{}, ErrInvalidInput
	}
	if in.Currency == "" {
		in.Currency = USD
	}
	if !in.Currency.Valid() {
		return User{}, ErrInvalidInput
	}
	user := User{
		ID:           s.now().UnixMilli(),
		FullName:     in.FullName,
		Email:        in.Email,
		MobileNumber: strings.TrimSpace(in.MobileNumber),
		Address:      strings.TrimSpace(in.Address),
		Currency:     in.Currency,
		Roles:        NormalizeRoles(in.Roles),
	}
	s.set(ctx, user)
	return cloneUser(user), nil
}

// Logout ends the session.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	s.loaded = true
	s.rec = nil
	persist.Remove(ctx, s.store, SessionKey)
	s.mu.Unlock()
	s.topic.Publish(nil)
}

// CurrentIdentity returns the session user while the session is valid. An
// expired or malformed record is removed and reported as absent.
func (s *Session) CurrentIdentity(ctx context.Context) (User, bool) {
	s.mu.Lock()
	expired := s.loadLocked(ctx)
	rec := s.rec
	s.mu.Unlock()
	if expired {
		s.topic.Publish(nil)
	}
	if rec == nil {
		return User{}, false
	}
	return cloneUser(rec.User), true
}

// ExpiresAt reports when the current session ends.
func (s *Session) ExpiresAt(ctx context.Context) (time.Time, bool) {
	if _, ok := s.CurrentIdentity(ctx); !ok {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(s.rec.ExpiresAt), true
}

func (s *Session) HasRole(ctx context.Context, role Role) bool {
	u, ok := s.CurrentIdentity(ctx)
	return ok && u.HasRole(role)
}

// HasAnyRole is true for an empty list even without an identity.
func (s *Session) HasAnyRole(ctx context.Context, roles ...Role) bool {
	if len(roles) == 0 {
		return true
	}
	u, ok := s.CurrentIdentity(ctx)
	return ok && u.HasAnyRole(roles...)
}

// SetUserRoles stores a role override and refreshes this session when the
// email is its own.
func (s *Session) SetUserRoles(ctx context.Context, email string, roles []Role) ([]Role, error) {
	applied, err := s.roles.SetUserRoles(ctx, email, roles)
	if err != nil || applied == nil {
		return nil, err
	}
	s.refreshRoles(ctx, email, applied)
	return applied, nil
}

// ClearUserRoleOverride removes a role override; a self-edit falls back to
// the directory roles.
func (s *Session) ClearUserRoleOverride(ctx context.Context, email string) error {
	if !s.roles.Enabled() {
		return nil
	}
	if err := s.roles.ClearUserRoleOverride(ctx, email); err != nil {
		return err
	}
	if u, ok := s.CurrentIdentity(ctx); !ok || NormalizeEmail(u.Email) != NormalizeEmail(email) {
		return nil
	}
	users, err := s.dir.ListUsers(ctx)
	if err != nil {
		obs.Logger().WithFields(logrus.Fields{"session": s.id, "error": err.Error()}).Warn("session role refresh skipped")
		return nil
	}
	for _, u := range users {
		if NormalizeEmail(u.Email) == NormalizeEmail(email) {
			s.refreshRoles(ctx, email, u.Roles)
			return nil
		}
	}
	return nil
}

// Subscribe receives the session user after every change; nil means signed out.
func (s *Session) Subscribe(fn func(*User)) func() {
	return s.topic.Subscribe(fn)
}

func (s *Session) refreshRoles(ctx context.Context, email string, roles []Role) {
	s.mu.Lock()
	s.loadLocked(ctx)
	if s.rec == nil || NormalizeEmail(s.rec.User.Email) != NormalizeEmail(email) {
		s.mu.Unlock()
		return
	}
	s.rec.User.Roles = append([]Role(nil), roles...)
	persist.Save(ctx, s.store, SessionKey, s.rec)
	u := cloneUser(s.rec.User)
	s.mu.Unlock()
	s.topic.Publish(&u)
}

func (s *Session) set(ctx context.Context, user User) {
	rec := &sessionRecord{
		User:      cloneUser(user),
		ExpiresAt: s.now().Add(s.ttl).UnixMilli(),
	}
	s.mu.Lock()
	s.loaded = true
	s.rec = rec
	persist.Save(ctx, s.store, SessionKey, rec)
	u := cloneUser(rec.User)
	s.mu.Unlock()
	s.topic.Publish(&u)
}

// loadLocked hydrates the record once and expires it when due. It reports
// whether an existing record was dropped.
func (s *Session) loadLocked(ctx context.Context) bool {
	if !s.loaded {
		var rec sessionRecord
		found, err := persist.Load(ctx, s.store, SessionKey, sessionSchema, &rec)
		if err != nil {
			// Signed out for this call only; the record stays.
			return false
		}
		s.loaded = true
		if found {
			s.rec = &rec
		} else if _, err := s.store.Get(ctx, SessionKey); err == nil {
			// Present but unreadable.
			persist.Remove(ctx, s.store, SessionKey)
		}
	}
	if s.rec != nil && s.now().UnixMilli() >= s.rec.ExpiresAt {
		s.rec = nil
		persist.Remove(ctx, s.store, SessionKey)
		return true
	}
	return false
}
