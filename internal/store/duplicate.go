package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shiro-booru/shiro/internal/apperr"
)

// GroupSignature canonicalizes a member-id set so resolved groups are not
// re-suggested by later detection runs.
func GroupSignature(postIDs []int64) string {
	ids := make([]int64, len(postIDs))
	copy(ids, postIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// DeleteUnresolvedGroups clears every unresolved group before a detection
// run rebuilds them.
func (s *Store) DeleteUnresolvedGroups(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM duplicate_groups WHERE is_resolved = 0`); err != nil {
		return fmt.Errorf("delete unresolved groups: %w", err)
	}
	return nil
}

// ResolvedSignatures returns the member-id signatures of resolved groups.
func (s *Store) ResolvedSignatures(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, e.post_id
		FROM duplicate_groups g JOIN duplicate_group_entries e ON e.group_id = g.id
		WHERE g.is_resolved = 1
		ORDER BY g.id`)
	if err != nil {
		return nil, fmt.Errorf("resolved signatures: %w", err)
	}
	defer rows.Close()

	members := make(map[int64][]int64)
	for rows.Next() {
		var gid, pid int64
		if err := rows.Scan(&gid, &pid); err != nil {
			return nil, err
		}
		members[gid] = append(members[gid], pid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sigs := make(map[string]struct{}, len(members))
	for _, ids := range members {
		sigs[GroupSignature(ids)] = struct{}{}
	}
	return sigs, nil
}

// NewGroup is one detected duplicate group awaiting insertion.
type NewGroup struct {
	Type              string
	SimilarityPercent *int
	PostIDs           []int64
}

// InsertDuplicateGroups writes detected groups and their entries in one
// transaction.
func (s *Store) InsertDuplicateGroups(ctx context.Context, groups []NewGroup) error {
	if len(groups) == 0 {
		return nil
	}
	now := time.Now().Unix()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		insGroup, err := tx.PrepareContext(ctx, `
			INSERT INTO duplicate_groups (type, similarity_percent, is_resolved, detected_date)
			VALUES (?, ?, 0, ?)`)
		if err != nil {
			return err
		}
		defer insGroup.Close()
		insEntry, err := tx.PrepareContext(ctx,
			`INSERT INTO duplicate_group_entries (group_id, post_id) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer insEntry.Close()

		for _, g := range groups {
			var sim any
			if g.SimilarityPercent != nil {
				sim = *g.SimilarityPercent
			}
			res, err := insGroup.ExecContext(ctx, g.Type, sim, now)
			if err != nil {
				return fmt.Errorf("insert group: %w", err)
			}
			gid, _ := res.LastInsertId()
			for _, pid := range g.PostIDs {
				if _, err := insEntry.ExecContext(ctx, gid, pid); err != nil {
					return fmt.Errorf("insert group entry %d/%d: %w", gid, pid, err)
				}
			}
		}
		return nil
	})
}

// ListGroups returns groups with member ids, optionally filtered by the
// resolved flag, ordered newest first.
func (s *Store) ListGroups(ctx context.Context, resolved *bool) ([]DuplicateGroup, error) {
	q := `SELECT id, type, similarity_percent, is_resolved, detected_date FROM duplicate_groups`
	var args []any
	if resolved != nil {
		q += ` WHERE is_resolved = ?`
		args = append(args, *resolved)
	}
	q += ` ORDER BY detected_date DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []DuplicateGroup
	byID := make(map[int64]*DuplicateGroup)
	for rows.Next() {
		var g DuplicateGroup
		var sim sql.NullInt64
		var detected int64
		if err := rows.Scan(&g.ID, &g.Type, &sim, &g.IsResolved, &detected); err != nil {
			return nil, err
		}
		if sim.Valid {
			v := int(sim.Int64)
			g.SimilarityPercent = &v
		}
		g.DetectedDate = time.Unix(detected, 0).UTC()
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range groups {
		byID[groups[i].ID] = &groups[i]
	}

	entryRows, err := s.db.QueryContext(ctx,
		`SELECT group_id, post_id FROM duplicate_group_entries ORDER BY group_id, post_id`)
	if err != nil {
		return nil, fmt.Errorf("list group entries: %w", err)
	}
	defer entryRows.Close()
	for entryRows.Next() {
		var gid, pid int64
		if err := entryRows.Scan(&gid, &pid); err != nil {
			return nil, err
		}
		if g, ok := byID[gid]; ok {
			g.PostIDs = append(g.PostIDs, pid)
		}
	}
	return groups, entryRows.Err()
}

// GetGroup loads one group with its member ids.
func (s *Store) GetGroup(ctx context.Context, id int64) (*DuplicateGroup, error) {
	var g DuplicateGroup
	var sim sql.NullInt64
	var detected int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, similarity_percent, is_resolved, detected_date
		 FROM duplicate_groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Type, &sim, &g.IsResolved, &detected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("duplicate group %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get group %d: %w", id, err)
	}
	if sim.Valid {
		v := int(sim.Int64)
		g.SimilarityPercent = &v
	}
	g.DetectedDate = time.Unix(detected, 0).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id FROM duplicate_group_entries WHERE group_id = ? ORDER BY post_id`, id)
	if err != nil {
		return nil, fmt.Errorf("group entries %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid int64
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		g.PostIDs = append(g.PostIDs, pid)
	}
	return &g, rows.Err()
}

// SetGroupResolved flips the resolved flag of one group.
func (s *Store) SetGroupResolved(ctx context.Context, id int64, resolved bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE duplicate_groups SET is_resolved = ? WHERE id = ?`, resolved, id)
	if err != nil {
		return fmt.Errorf("set group %d resolved: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("duplicate group %d not found", id)
	}
	return nil
}

// MarkAllUnresolved flips every resolved group back; returns the count.
func (s *Store) MarkAllUnresolved(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE duplicate_groups SET is_resolved = 0 WHERE is_resolved = 1`)
	if err != nil {
		return 0, fmt.Errorf("mark all unresolved: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReconcileGroups deletes unresolved groups whose entry count dropped
// below 2, upholding the group-cardinality invariant after resolutions.
func (s *Store) ReconcileGroups(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM duplicate_groups
		WHERE is_resolved = 0
		  AND id IN (
			SELECT g.id FROM duplicate_groups g
			LEFT JOIN duplicate_group_entries e ON e.group_id = g.id
			GROUP BY g.id HAVING COUNT(e.post_id) < 2
		  )`)
	if err != nil {
		return fmt.Errorf("reconcile groups: %w", err)
	}
	return nil
}
