package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shiro-booru/shiro/internal/apperr"
	"github.com/shiro-booru/shiro/internal/pathutil"
)

// CreateLibrary validates the root directory and inserts a new library.
func (s *Store) CreateLibrary(ctx context.Context, name, path string, scanIntervalHours int) (*Library, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("library name must not be empty")
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, apperr.Invalid("library path %q is not an existing directory", path)
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO libraries (name, path, scan_interval_hours, created_at)
		VALUES (?, ?, ?, ?)`,
		name, path, scanIntervalHours, now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("library named %q already exists", name)
		}
		return nil, fmt.Errorf("insert library: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Library{ID: id, Name: name, Path: path, ScanIntervalHours: scanIntervalHours, CreatedAt: now}, nil
}

// GetLibrary loads one library with its ignored prefixes.
func (s *Store) GetLibrary(ctx context.Context, id int64) (*Library, error) {
	var lib Library
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, path, scan_interval_hours, created_at
		FROM libraries WHERE id = ?`, id,
	).Scan(&lib.ID, &lib.Name, &lib.Path, &lib.ScanIntervalHours, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("library %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get library %d: %w", id, err)
	}
	lib.CreatedAt = time.Unix(createdAt, 0).UTC()

	prefixes, err := s.IgnoredPrefixes(ctx, id)
	if err != nil {
		return nil, err
	}
	lib.IgnoredPrefixes = prefixes
	return &lib, nil
}

// ListLibraries returns all libraries ordered by name.
func (s *Store) ListLibraries(ctx context.Context) ([]Library, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path, scan_interval_hours, created_at
		FROM libraries ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	defer rows.Close()

	var libs []Library
	for rows.Next() {
		var lib Library
		var createdAt int64
		if err := rows.Scan(&lib.ID, &lib.Name, &lib.Path, &lib.ScanIntervalHours, &createdAt); err != nil {
			return nil, err
		}
		lib.CreatedAt = time.Unix(createdAt, 0).UTC()
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// UpdateLibrary renames a library and/or changes its scan interval.
func (s *Store) UpdateLibrary(ctx context.Context, id int64, name string, scanIntervalHours int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Invalid("library name must not be empty")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE libraries SET name = ?, scan_interval_hours = ? WHERE id = ?`,
		name, scanIntervalHours, id)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("library named %q already exists", name)
		}
		return fmt.Errorf("update library %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("library %d not found", id)
	}
	return nil
}

// DeleteLibrary removes a library; posts, exclusions, and ignored prefixes
// cascade in the schema.
func (s *Store) DeleteLibrary(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM libraries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete library %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("library %d not found", id)
	}
	return nil
}

// IgnoredPrefixes returns the normalized ignored prefixes of a library.
func (s *Store) IgnoredPrefixes(ctx context.Context, libraryID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prefix FROM library_ignored_prefixes WHERE library_id = ? ORDER BY prefix`,
		libraryID)
	if err != nil {
		return nil, fmt.Errorf("list ignored prefixes: %w", err)
	}
	defer rows.Close()

	var prefixes []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, rows.Err()
}

// AddIgnoredPrefix registers a normalized prefix; adding an existing prefix
// is a no-op.
func (s *Store) AddIgnoredPrefix(ctx context.Context, libraryID int64, prefix string) error {
	prefix = pathutil.Normalize(prefix)
	if prefix == "" {
		return apperr.Invalid("ignored prefix must not be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO library_ignored_prefixes (library_id, prefix)
		VALUES (?, ?)`, libraryID, prefix)
	if err != nil {
		return fmt.Errorf("add ignored prefix: %w", err)
	}
	return nil
}

// RemoveIgnoredPrefix drops a prefix.
func (s *Store) RemoveIgnoredPrefix(ctx context.Context, libraryID int64, prefix string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM library_ignored_prefixes WHERE library_id = ? AND prefix = ?`,
		libraryID, pathutil.Normalize(prefix))
	if err != nil {
		return fmt.Errorf("remove ignored prefix: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("prefix %q not ignored", prefix)
	}
	return nil
}

// isUniqueViolation detects SQLite unique-constraint failures without
// importing driver internals.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
