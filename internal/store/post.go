package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shiro-booru/shiro/internal/apperr"
)

// ExistingPost is the slim snapshot of a post the synchronizer diffs against.
type ExistingPost struct {
	ID               int64
	RelativePath     string
	ContentHash      string
	SizeBytes        int64
	FileModifiedDate time.Time
	IdentityDevice   string
	IdentityValue    string
}

// SyncUpdate carries the new filesystem state for one post, applied in the
// post-scan transactional pass. Exactly one of the flags describes the kind
// of change.
type SyncUpdate struct {
	PostID           int64
	RelativePath     string // new path for moves, existing path otherwise
	SizeBytes        int64
	FileModifiedDate time.Time
	ContentHash      string
	IdentityDevice   string
	IdentityValue    string
	ContentType      string // recomputed from extension, moves only

	IdentityOnly bool // only the identity columns change
	HashChanged  bool // reset width/height/pdq so downstream jobs re-derive
	IsMove       bool
}

// SnapshotLibraryPosts loads every post of a library in one pass.
func (s *Store) SnapshotLibraryPosts(ctx context.Context, libraryID int64) ([]ExistingPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, relative_path, content_hash, size_bytes, file_modified_date,
		       file_identity_device, file_identity_value
		FROM posts WHERE library_id = ?`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("snapshot posts: %w", err)
	}
	defer rows.Close()

	var posts []ExistingPost
	for rows.Next() {
		var p ExistingPost
		var mtime int64
		var dev, val sql.NullString
		if err := rows.Scan(&p.ID, &p.RelativePath, &p.ContentHash, &p.SizeBytes, &mtime, &dev, &val); err != nil {
			return nil, err
		}
		p.FileModifiedDate = time.Unix(mtime, 0).UTC()
		p.IdentityDevice = strOrEmpty(dev)
		p.IdentityValue = strOrEmpty(val)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// InsertPostsBatch writes a batch of new posts in one transaction.
// Used by the ingestion pipeline.
func (s *Store) InsertPostsBatch(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO posts
				(library_id, relative_path, content_hash, size_bytes, width, height,
				 content_type, import_date, file_modified_date,
				 file_identity_device, file_identity_value, pdq_hash, is_favorite)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0)`)
		if err != nil {
			return fmt.Errorf("prepare insert post: %w", err)
		}
		defer stmt.Close()

		for i := range posts {
			p := &posts[i]
			res, err := stmt.ExecContext(ctx,
				p.LibraryID, p.RelativePath, p.ContentHash, p.SizeBytes,
				p.Width, p.Height, p.ContentType,
				p.ImportDate.Unix(), p.FileModifiedDate.Unix(),
				nullStr(p.FileIdentityDevice), nullStr(p.FileIdentityValue))
			if err != nil {
				return fmt.Errorf("insert post %q: %w", p.RelativePath, err)
			}
			p.ID, _ = res.LastInsertId()
		}
		return nil
	})
}

// ApplySyncUpdates applies all update and move records of one library sync
// in a single transaction.
func (s *Store) ApplySyncUpdates(ctx context.Context, updates []SyncUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			var err error
			switch {
			case u.IdentityOnly:
				_, err = tx.ExecContext(ctx, `
					UPDATE posts SET file_identity_device = ?, file_identity_value = ?
					WHERE id = ?`,
					nullStr(u.IdentityDevice), nullStr(u.IdentityValue), u.PostID)
			case u.IsMove:
				_, err = tx.ExecContext(ctx, `
					UPDATE posts
					SET relative_path = ?, content_hash = ?, size_bytes = ?,
					    file_modified_date = ?, content_type = ?,
					    file_identity_device = ?, file_identity_value = ?
					WHERE id = ?`,
					u.RelativePath, u.ContentHash, u.SizeBytes,
					u.FileModifiedDate.Unix(), u.ContentType,
					nullStr(u.IdentityDevice), nullStr(u.IdentityValue), u.PostID)
			case u.HashChanged:
				_, err = tx.ExecContext(ctx, `
					UPDATE posts
					SET content_hash = ?, size_bytes = ?, file_modified_date = ?,
					    file_identity_device = ?, file_identity_value = ?,
					    width = 0, height = 0, pdq_hash = NULL
					WHERE id = ?`,
					u.ContentHash, u.SizeBytes, u.FileModifiedDate.Unix(),
					nullStr(u.IdentityDevice), nullStr(u.IdentityValue), u.PostID)
			default:
				_, err = tx.ExecContext(ctx, `
					UPDATE posts
					SET content_hash = ?, size_bytes = ?, file_modified_date = ?,
					    file_identity_device = ?, file_identity_value = ?
					WHERE id = ?`,
					u.ContentHash, u.SizeBytes, u.FileModifiedDate.Unix(),
					nullStr(u.IdentityDevice), nullStr(u.IdentityValue), u.PostID)
			}
			if err != nil {
				return fmt.Errorf("apply sync update post %d: %w", u.PostID, err)
			}
		}
		return nil
	})
}

// DeletePostsByIDs removes posts in one transaction; associations cascade.
func (s *Store) DeletePostsByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM posts WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("delete post %d: %w", id, err)
			}
		}
		return nil
	})
}

// CopyInheritedTags copies non-folder tag assignments from same-library posts
// sharing a content hash onto each newly added post. Folder tags are skipped
// because they are re-derived from the new path. Returns rows copied.
func (s *Store) CopyInheritedTags(ctx context.Context, newPostIDs []int64) (int64, error) {
	var copied int64
	for _, id := range newPostIDs {
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO post_tags (post_id, tag_id, source)
			SELECT np.id, pt.tag_id, pt.source
			FROM posts np
			JOIN posts peer
			  ON peer.library_id = np.library_id
			 AND peer.content_hash = np.content_hash
			 AND peer.id <> np.id
			JOIN post_tags pt ON pt.post_id = peer.id AND pt.source <> 'folder'
			WHERE np.id = ?`, id)
		if err != nil {
			return copied, fmt.Errorf("copy inherited tags for post %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		copied += n
	}
	return copied, nil
}

// GetPost loads one post.
func (s *Store) GetPost(ctx context.Context, id int64) (*Post, error) {
	var p Post
	var importDate, mtime int64
	var dev, val, pdq sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, library_id, relative_path, content_hash, size_bytes, width, height,
		       content_type, import_date, file_modified_date,
		       file_identity_device, file_identity_value, pdq_hash, is_favorite
		FROM posts WHERE id = ?`, id,
	).Scan(&p.ID, &p.LibraryID, &p.RelativePath, &p.ContentHash, &p.SizeBytes,
		&p.Width, &p.Height, &p.ContentType, &importDate, &mtime,
		&dev, &val, &pdq, &p.IsFavorite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("post %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get post %d: %w", id, err)
	}
	p.ImportDate = time.Unix(importDate, 0).UTC()
	p.FileModifiedDate = time.Unix(mtime, 0).UTC()
	p.FileIdentityDevice = strOrEmpty(dev)
	p.FileIdentityValue = strOrEmpty(val)
	p.PDQHash = strOrEmpty(pdq)
	return &p, nil
}

// CountPosts returns the total number of posts.
func (s *Store) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}
