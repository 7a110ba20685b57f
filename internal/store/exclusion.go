package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ExclusionsByPath returns relative path → excluded content hash for one
// library, the shape the synchronizer checks against.
func (s *Store) ExclusionsByPath(ctx context.Context, libraryID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT relative_path, content_hash FROM excluded_files WHERE library_id = ?`,
		libraryID)
	if err != nil {
		return nil, fmt.Errorf("exclusions by path: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var rel, hash string
		if err := rows.Scan(&rel, &hash); err != nil {
			return nil, err
		}
		m[rel] = hash
	}
	return m, rows.Err()
}

// ExclusionRef locates an exclusion and its library root for validation.
type ExclusionRef struct {
	ID           int64
	LibraryID    int64
	LibraryPath  string
	RelativePath string
	ContentHash  string
}

// ListExclusions loads every exclusion joined with its library root.
func (s *Store) ListExclusions(ctx context.Context) ([]ExclusionRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.library_id, l.path, e.relative_path, e.content_hash
		FROM excluded_files e JOIN libraries l ON l.id = e.library_id
		ORDER BY e.id`)
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	defer rows.Close()

	var refs []ExclusionRef
	for rows.Next() {
		var r ExclusionRef
		if err := rows.Scan(&r.ID, &r.LibraryID, &r.LibraryPath, &r.RelativePath, &r.ContentHash); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// DeleteExclusionsByIDs removes exclusions in one transaction.
func (s *Store) DeleteExclusionsByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM excluded_files WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("delete exclusion %d: %w", id, err)
			}
		}
		return nil
	})
}

// InsertExclusion records an exclusion unless the (library, path) is already
// excluded.
func (s *Store) InsertExclusion(ctx context.Context, libraryID int64, relativePath, contentHash, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO excluded_files
			(library_id, relative_path, content_hash, excluded_date, reason)
		VALUES (?, ?, ?, ?, ?)`,
		libraryID, relativePath, contentHash, time.Now().Unix(), reason)
	if err != nil {
		return fmt.Errorf("insert exclusion: %w", err)
	}
	return nil
}
