package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"rent360.org/internal/kv"
	"rent360.org/internal/obs"
	"rent360.org/internal/persist"
)

// Sessions hands out Session values keyed by session id. Each session keeps
// its record in its own scope of the shared store.
type Sessions struct {
	base  kv.Store
	dir   *Directory
	roles *RoleOverrides
	ttl   time.Duration
	now   func() time.Time

	mu   sync.Mutex
	open map[string]*Session
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTTL overrides DefaultSessionTTL.
func WithTTL(ttl time.Duration) SessionsOption {
	return func(s *Sessions) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewSessions(base kv.Store, dir *Directory, roles *RoleOverrides, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		base:  base,
		dir:   dir,
		roles: roles,
		ttl:   DefaultSessionTTL,
		now:   time.Now,
		open:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sessions) TTL() time.Duration { return s.ttl }

// New opens a session under a fresh id.
func (s *Sessions) New() *Session {
	return s.Open(uuid.NewString())
}

// Open returns the session for id, creating the handle on first use.
func (s *Sessions) Open(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.open[id]; ok {
		return sess
	}
	sess := newSession(id, kv.Session(s.base, id), s.dir, s.roles, s.ttl, s.now)
	s.open[id] = sess
	return sess
}

// Sweep deletes expired or unreadable session records and forgets handles
// without an identity. It returns the number of records removed.
func (s *Sessions) Sweep(ctx context.Context) (int, error) {
	keys, err := s.base.Keys(ctx, kv.SessionPrefix)
	if err != nil {
		return 0, err
	}
	now := s.now().UnixMilli()
	removed := 0
	for _, key := range keys {
		if !strings.HasSuffix(key, "/"+SessionKey) {
			continue
		}
		raw, err := s.base.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec sessionRecord
		if err := persist.Decode(raw, sessionSchema, &rec); err == nil && now < rec.ExpiresAt {
			continue
		}
		if err := s.base.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}

	s.mu.Lock()
	handles := make(map[string]*Session, len(s.open))
	for id, sess := range s.open {
		handles[id] = sess
	}
	s.mu.Unlock()
	for id, sess := range handles {
		if _, ok := sess.CurrentIdentity(ctx); ok {
			continue
		}
		s.mu.Lock()
		if s.open[id] == sess {
			delete(s.open, id)
		}
		s.mu.Unlock()
	}

	obs.ObserveSessionsSwept(removed)
	return removed, nil
}

// Sweeper runs Sessions.Sweep on a cron schedule.
type Sweeper struct {
	sessions *Sessions
	schedule string
	logger   *logrus.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewSweeper(sessions *Sessions, schedule string) *Sweeper {
	if strings.TrimSpace(schedule) == "" {
		schedule = "@every 10m"
	}
	return &Sweeper{sessions: sessions, schedule: schedule, logger: obs.Logger()}
}

// Start schedules the sweep job.
func (w *Sweeper) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.cron = cron.New()
	if _, err := w.cron.AddFunc(w.schedule, w.run); err != nil {
		w.logger.WithError(err).Error("failed to schedule session sweep")
		return err
	}
	w.cron.Start()
	w.running = true
	w.logger.WithField("schedule", w.schedule).Info("session sweeper started")
	return nil
}

// Stop waits for a running sweep to finish.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.running = false
	w.logger.Info("session sweeper stopped")
}

func (w *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	start := time.Now()
	n, err := w.sessions.Sweep(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("session sweep failed")
		return
	}
	w.logger.WithFields(logrus.Fields{
		"removed":     n,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("session sweep complete")
}
