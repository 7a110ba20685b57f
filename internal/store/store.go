// Package store implements the relational operations of the catalog on
// SQLite. All methods take a context and return wrapped errors; writes that
// must be atomic run inside a single transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Store wraps the single-writer SQLite handle.
type Store struct {
	db *sql.DB
}

// New creates a Store over an opened database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the raw handle for read-only queries at the HTTP edge.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside a transaction, committing on nil error. Used by the
// duplicate resolver for mutations spanning several entities.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withTx(ctx, fn)
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// nullStr maps "" to NULL for nullable text columns.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// strOrEmpty maps NULL back to "".
func strOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
