package kv

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis stores entries as plain string keys under a namespace prefix.
type Redis struct {
	rdb       redis.UniversalClient
	namespace string
}

// NewRedis wraps an existing client.
func NewRedis(rdb redis.UniversalClient, namespace string) *Redis {
	return &Redis{rdb: rdb, namespace: namespace}
}

// OpenRedis connects and verifies the server answers.
func OpenRedis(ctx context.Context, addr, password string, db int, namespace string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, unavailable("connect", err)
	}
	return NewRedis(rdb, namespace), nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.rdb.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.namespace+key, value, 0).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.namespace+key).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(r.namespace+prefix) + "*"
	var keys []string
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	return sortedWithPrefix(keys, prefix), nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
