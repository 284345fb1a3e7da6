package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"rent360.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dialect = flag.String("dialect", envOr("R360_STORAGE_BACKEND", "postgres"), "SQL dialect: postgres or sqlite")
		dsn     = flag.String("dsn", os.Getenv("R360_STORAGE_DSN"), "database DSN (sqlite: file path)")
		table   = flag.String("table", "", "migrations bookkeeping table")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or R360_STORAGE_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status|pending]")
	}

	d := migrate.Dialect(*dialect)
	driver := "pgx"
	if d == migrate.SQLite {
		driver = "sqlite"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open(driver, *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr, err := migrate.NewManager(db, d, migrate.WithMigrationsTable(*table))
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var names []string
	switch flag.Arg(0) {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if name != "" {
			names = []string{name}
		}
	case "status":
		names, err = mgr.Status(ctx)
	case "pending":
		names, err = mgr.Pending(ctx)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
