package kv

import (
	"context"
	"fmt"
	"io"

	"rent360.org/internal/config"
	"rent360.org/internal/migrate"
)

// Open selects and connects the backend named in cfg. The returned closer
// releases backend resources and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, io.Closer, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return NewMemory(), nopCloser{}, nil
	case config.BackendFile:
		s, err := NewFile(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	case config.BackendSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Path
		}
		s, err := OpenSQL(ctx, migrate.SQLite, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.BackendPostgres:
		s, err := OpenSQL(ctx, migrate.Postgres, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.BackendRedis:
		s, err := OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
