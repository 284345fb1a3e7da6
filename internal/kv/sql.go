package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"rent360.org/internal/migrate"
)

// SQL stores entries in the kv_entries table of a Postgres or SQLite database.
type SQL struct {
	db      *sql.DB
	dialect migrate.Dialect

	getQ, setQ, delQ, keysQ string
}

// NewSQL wraps an open database. The kv_entries table must already exist.
func NewSQL(db *sql.DB, dialect migrate.Dialect) *SQL {
	p := dialect.Placeholder
	return &SQL{
		db:      db,
		dialect: dialect,
		getQ:    fmt.Sprintf(`select value from kv_entries where key = %s`, p(1)),
		setQ: fmt.Sprintf(`insert into kv_entries(key, value, updated_at) values (%s, %s, %s)
on conflict (key) do update set value = excluded.value, updated_at = excluded.updated_at`, p(1), p(2), p(3)),
		delQ:  fmt.Sprintf(`delete from kv_entries where key = %s`, p(1)),
		keysQ: fmt.Sprintf(`select key from kv_entries where substr(key, 1, %s) = %s order by key`, p(1), p(2)),
	}
}

// OpenSQL opens the database for dialect and applies pending migrations.
func OpenSQL(ctx context.Context, dialect migrate.Dialect, dsn string) (*SQL, error) {
	driver := "pgx"
	if dialect == migrate.SQLite {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}
	if dialect == migrate.SQLite {
		// One writer keeps SQLite free of busy errors and makes :memory: usable.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	m, err := migrate.NewManager(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := m.Up(ctx); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}
	return NewSQL(db, dialect), nil
}

func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.getQ, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return value, nil
}

func (s *SQL) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.setQ, key, value, time.Now().UTC()); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.delQ, key); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *SQL) Keys(ctx context.Context, prefix string) ([]string, error) {
	// substr counts characters in both dialects.
	rows, err := s.db.QueryContext(ctx, s.keysQ, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, unavailable("keys", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable("keys", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("keys", err)
	}
	return sortedWithPrefix(keys, prefix), nil
}
