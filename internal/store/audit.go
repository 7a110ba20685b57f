package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditForPost returns the newest audit entries of a post. The rows are
// written by database triggers; this is a read-only view.
func (s *Store) AuditForPost(ctx context.Context, postID int64, limit int) ([]PostAuditEntry, error) {
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, occurred_at, entity, operation, field, old_value, new_value
		FROM post_audits WHERE post_id = ?
		ORDER BY id DESC LIMIT ?`, postID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit for post %d: %w", postID, err)
	}
	defer rows.Close()

	var entries []PostAuditEntry
	for rows.Next() {
		var e PostAuditEntry
		var at int64
		var oldV, newV sql.NullString
		if err := rows.Scan(&e.ID, &e.PostID, &at, &e.Entity, &e.Operation, &e.Field, &oldV, &newV); err != nil {
			return nil, err
		}
		e.OccurredAt = time.Unix(at, 0).UTC()
		e.OldValue = strOrEmpty(oldV)
		e.NewValue = strOrEmpty(newV)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
