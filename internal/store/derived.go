package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PostFileRef locates a post's file on disk for the derived-data jobs.
type PostFileRef struct {
	ID           int64
	LibraryID    int64
	LibraryPath  string
	RelativePath string
	ContentHash  string
	ContentType  string
}

// ListPostsForMetadata returns posts whose dimensions or content type are
// missing, or every post when all is true. Ordered by id for stable batches.
func (s *Store) ListPostsForMetadata(ctx context.Context, all bool) ([]PostFileRef, error) {
	q := `
		SELECT p.id, p.library_id, l.path, p.relative_path, p.content_hash, p.content_type
		FROM posts p JOIN libraries l ON l.id = p.library_id`
	if !all {
		q += ` WHERE p.width = 0 OR p.content_type = ''`
	}
	q += ` ORDER BY p.id`
	return s.queryFileRefs(ctx, q)
}

// MetadataUpdate writes back extracted dimensions and MIME type.
type MetadataUpdate struct {
	PostID      int64
	Width       int
	Height      int
	ContentType string
}

// SetPostMetadataBatch applies one batch of metadata updates transactionally.
func (s *Store) SetPostMetadataBatch(ctx context.Context, updates []MetadataUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE posts SET width = ?, height = ?, content_type = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.Width, u.Height, u.ContentType, u.PostID); err != nil {
				return fmt.Errorf("set metadata post %d: %w", u.PostID, err)
			}
		}
		return nil
	})
}

// ListImagePostsForSimilarity returns image posts missing a perceptual hash,
// or all image posts when all is true.
func (s *Store) ListImagePostsForSimilarity(ctx context.Context, all bool) ([]PostFileRef, error) {
	q := `
		SELECT p.id, p.library_id, l.path, p.relative_path, p.content_hash, p.content_type
		FROM posts p JOIN libraries l ON l.id = p.library_id
		WHERE p.content_type LIKE 'image/%'`
	if !all {
		q += ` AND (p.pdq_hash IS NULL OR p.pdq_hash = '')`
	}
	q += ` ORDER BY p.id`
	return s.queryFileRefs(ctx, q)
}

// PDQUpdate writes back one computed perceptual hash.
type PDQUpdate struct {
	PostID int64
	Hash   string
}

// SetPostPDQBatch applies one batch of perceptual hashes transactionally.
func (s *Store) SetPostPDQBatch(ctx context.Context, updates []PDQUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE posts SET pdq_hash = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, nullStr(u.Hash), u.PostID); err != nil {
				return fmt.Errorf("set pdq post %d: %w", u.PostID, err)
			}
		}
		return nil
	})
}

// ThumbnailSources returns one source file per distinct (library, hash) pair;
// the thumbnail path is a pure function of that pair.
func (s *Store) ThumbnailSources(ctx context.Context) ([]PostFileRef, error) {
	return s.queryFileRefs(ctx, `
		SELECT MIN(p.id), p.library_id, l.path, MIN(p.relative_path), p.content_hash, p.content_type
		FROM posts p JOIN libraries l ON l.id = p.library_id
		GROUP BY p.library_id, p.content_hash
		ORDER BY MIN(p.id)`)
}

// DuplicateScanPost is the slim row loaded by the find-duplicates job.
type DuplicateScanPost struct {
	ID          int64
	ContentHash string
	PDQHash     string
	ContentType string
}

// PostsForDuplicateScan loads every post's hash columns.
func (s *Store) PostsForDuplicateScan(ctx context.Context) ([]DuplicateScanPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_hash, pdq_hash, content_type FROM posts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("posts for duplicate scan: %w", err)
	}
	defer rows.Close()

	var posts []DuplicateScanPost
	for rows.Next() {
		var p DuplicateScanPost
		var pdq sql.NullString
		if err := rows.Scan(&p.ID, &p.ContentHash, &pdq, &p.ContentType); err != nil {
			return nil, err
		}
		p.PDQHash = strOrEmpty(pdq)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *Store) queryFileRefs(ctx context.Context, query string, args ...any) ([]PostFileRef, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query file refs: %w", err)
	}
	defer rows.Close()

	var refs []PostFileRef
	for rows.Next() {
		var r PostFileRef
		if err := rows.Scan(&r.ID, &r.LibraryID, &r.LibraryPath, &r.RelativePath, &r.ContentHash, &r.ContentType); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
