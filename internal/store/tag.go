package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// EnsureTags returns the ids of the given tag names, creating missing rows.
// Names are assumed sanitized by the caller.
func (s *Store) EnsureTags(ctx context.Context, names []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(names))
	if len(names) == 0 {
		return ids, nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		insert, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`)
		if err != nil {
			return err
		}
		defer insert.Close()
		lookup, err := tx.PrepareContext(ctx, `SELECT id FROM tags WHERE name = ?`)
		if err != nil {
			return err
		}
		defer lookup.Close()

		for _, name := range names {
			if _, err := insert.ExecContext(ctx, name); err != nil {
				return fmt.Errorf("ensure tag %q: %w", name, err)
			}
			var id int64
			if err := lookup.QueryRowContext(ctx, name).Scan(&id); err != nil {
				return fmt.Errorf("lookup tag %q: %w", name, err)
			}
			ids[name] = id
		}
		return nil
	})
	return ids, err
}

// AllTags loads every tag.
func (s *Store) AllTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, tag_category_id, post_count FROM tags ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		var cat sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Name, &cat, &t.PostCount); err != nil {
			return nil, err
		}
		if cat.Valid {
			t.TagCategoryID = &cat.Int64
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// PostPathRef is a (post id, relative path) pair for the folder-tag job.
type PostPathRef struct {
	ID           int64
	RelativePath string
}

// ListPostPathsAfter pages through posts ordered by id.
func (s *Store) ListPostPathsAfter(ctx context.Context, afterID int64, limit int) ([]PostPathRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, relative_path FROM posts WHERE id > ? ORDER BY id LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list post paths: %w", err)
	}
	defer rows.Close()

	var refs []PostPathRef
	for rows.Next() {
		var r PostPathRef
		if err := rows.Scan(&r.ID, &r.RelativePath); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// FolderTagRef is one source=folder assignment with its tag name.
type FolderTagRef struct {
	PostID int64
	TagID  int64
	Name   string
}

// FolderTagsForPosts loads the current source=folder assignments of a batch
// of posts.
func (s *Store) FolderTagsForPosts(ctx context.Context, postIDs []int64) ([]FolderTagRef, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(postIDs)-1) + "?"
	args := make([]any, len(postIDs))
	for i, id := range postIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pt.post_id, pt.tag_id, t.name
		FROM post_tags pt JOIN tags t ON t.id = pt.tag_id
		WHERE pt.source = 'folder' AND pt.post_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("folder tags for posts: %w", err)
	}
	defer rows.Close()

	var refs []FolderTagRef
	for rows.Next() {
		var r FolderTagRef
		if err := rows.Scan(&r.PostID, &r.TagID, &r.Name); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// ApplyPostTagChanges adds and removes assignments in one transaction.
func (s *Store) ApplyPostTagChanges(ctx context.Context, add, remove []PostTag) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if len(add) > 0 {
			stmt, err := tx.PrepareContext(ctx,
				`INSERT OR IGNORE INTO post_tags (post_id, tag_id, source) VALUES (?, ?, ?)`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, pt := range add {
				if _, err := stmt.ExecContext(ctx, pt.PostID, pt.TagID, pt.Source); err != nil {
					return fmt.Errorf("add tag %d to post %d: %w", pt.TagID, pt.PostID, err)
				}
			}
		}
		if len(remove) > 0 {
			stmt, err := tx.PrepareContext(ctx,
				`DELETE FROM post_tags WHERE post_id = ? AND tag_id = ? AND source = ?`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, pt := range remove {
				if _, err := stmt.ExecContext(ctx, pt.PostID, pt.TagID, pt.Source); err != nil {
					return fmt.Errorf("remove tag %d from post %d: %w", pt.TagID, pt.PostID, err)
				}
			}
		}
		return nil
	})
}

// TagMerge folds victim tags into a survivor during name sanitation.
type TagMerge struct {
	SurvivorID    int64
	SurvivorName  string // sanitized name the survivor is renamed to
	VictimIDs     []int64
	AdoptCategory *int64 // set when the survivor has no category and a victim does
}

// ApplyTagSanitation commits renames and merges in a single transaction.
// Merges move assignments to the survivor (deduplicating on the triple key),
// adopt a category when the survivor lacks one, then delete the victims.
func (s *Store) ApplyTagSanitation(ctx context.Context, renames map[int64]string, merges []TagMerge) error {
	if len(renames) == 0 && len(merges) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for id, name := range renames {
			if _, err := tx.ExecContext(ctx,
				`UPDATE tags SET name = ? WHERE id = ?`, name, id); err != nil {
				return fmt.Errorf("rename tag %d: %w", id, err)
			}
		}
		for _, m := range merges {
			if m.AdoptCategory != nil {
				if _, err := tx.ExecContext(ctx, `
					UPDATE tags SET tag_category_id = ?
					WHERE id = ? AND tag_category_id IS NULL`,
					*m.AdoptCategory, m.SurvivorID); err != nil {
					return fmt.Errorf("adopt category for tag %d: %w", m.SurvivorID, err)
				}
			}
			for _, victim := range m.VictimIDs {
				if _, err := tx.ExecContext(ctx, `
					INSERT OR IGNORE INTO post_tags (post_id, tag_id, source)
					SELECT post_id, ?, source FROM post_tags WHERE tag_id = ?`,
					m.SurvivorID, victim); err != nil {
					return fmt.Errorf("move assignments of tag %d: %w", victim, err)
				}
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM post_tags WHERE tag_id = ?`, victim); err != nil {
					return fmt.Errorf("clear assignments of tag %d: %w", victim, err)
				}
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM tags WHERE id = ?`, victim); err != nil {
					return fmt.Errorf("delete tag %d: %w", victim, err)
				}
			}
			// Rename last: a victim may have held the sanitized name.
			if _, err := tx.ExecContext(ctx,
				`UPDATE tags SET name = ? WHERE id = ?`, m.SurvivorName, m.SurvivorID); err != nil {
				return fmt.Errorf("rename survivor tag %d: %w", m.SurvivorID, err)
			}
		}
		return nil
	})
}
