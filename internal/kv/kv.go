// Package kv provides the key/value persistence used for session and durable
// console state. Values are opaque bytes, normally JSON documents.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps any backend failure.
	ErrUnavailable = errors.New("kv: storage unavailable")
)

// Store is a flat key/value namespace.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Ping reports whether s answers. Backends without a native ping are probed
// with a read of a reserved key.
func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.Get(ctx, "__ping__")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Scoped namespaces every key of an underlying store under a fixed prefix.
type Scoped struct {
	base   Store
	prefix string
}

// NewScoped returns a view of base whose keys are prefixed with prefix.
func NewScoped(base Store, prefix string) *Scoped {
	if s, ok := base.(*Scoped); ok {
		return &Scoped{base: s.base, prefix: s.prefix + prefix}
	}
	return &Scoped{base: base, prefix: prefix}
}

// Durable is the process-wide scope for state that outlives sessions.
func Durable(base Store) *Scoped {
	return NewScoped(base, "local/")
}

// Session is the scope holding state for one session id.
func Session(base Store, sessionID string) *Scoped {
	return NewScoped(base, SessionPrefix+sessionID+"/")
}

// SessionPrefix is the key prefix shared by every session scope.
const SessionPrefix = "session/"

func (s *Scoped) Prefix() string { return s.prefix }

func (s *Scoped) Get(ctx context.Context, key string) ([]byte, error) {
	return s.base.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key string, value []byte) error {
	return s.base.Set(ctx, s.prefix+key, value)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.base.Delete(ctx, s.prefix+key)
}

func (s *Scoped) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.base.Keys(ctx, s.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix))
	}
	return out, nil
}

// Clear removes every key in the scope.
func (s *Scoped) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx, "")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func sortedWithPrefix(keys []string, prefix string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
