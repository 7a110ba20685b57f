// Package db owns the SQLite connection for the catalog: open with the
// pragmas the store relies on, and apply the embedded schema migrations.
package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// busyTimeoutMillis bounds how long a statement waits on a locked
	// database before failing with SQLITE_BUSY.
	busyTimeoutMillis = 5000
	// cacheKiB is the page-cache budget per connection. Negative PRAGMA
	// cache_size values are KiB.
	cacheKiB = 64000
)

// Open opens or creates the catalog database at path. The pool is capped at
// one connection: jobs, syncs, and HTTP handlers all write, and a single
// writer keeps WAL mode free of SQLITE_BUSY retries.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		// The schema leans on cascading deletes (library → posts → tags,
		// group entries); without this pragma they silently do nothing.
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheKiB),
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return conn, nil
}

// RunMigrations brings the schema up to date from the embedded migration
// files. Safe to call on every startup; applied versions are skipped.
func RunMigrations(conn *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("select goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
