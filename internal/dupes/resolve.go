package dupes

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shiro-booru/shiro/internal/apperr"
	"github.com/shiro-booru/shiro/internal/pathutil"
	"github.com/shiro-booru/shiro/internal/store"
)

// exclusionReason marks exclusions written by duplicate resolutions.
const exclusionReason = "duplicate"

// KeepOne resolves a group by keeping one post: every other member's tags
// and sources are merged into the kept post, an exclusion is recorded for
// its path, and its row is deleted. The on-disk files are not touched.
// All of it commits in one transaction, ending with the group's deletion.
func (s *Service) KeepOne(ctx context.Context, groupID, keepID int64) error {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	var kept *Entry
	for i := range g.Entries {
		if g.Entries[i].PostID == keepID {
			kept = &g.Entries[i]
		}
	}
	if kept == nil {
		return apperr.Invalid("post %d is not a member of group %d", keepID, groupID)
	}

	return s.st.WithTx(ctx, func(tx *sql.Tx) error {
		for _, e := range g.Entries {
			if e.PostID == keepID {
				continue
			}
			if err := mergeTagsTx(ctx, tx, keepID, e.PostID); err != nil {
				return err
			}
			if err := mergeSourcesTx(ctx, tx, keepID, e.PostID); err != nil {
				return err
			}
			if err := excludeAndDeleteTx(ctx, tx, e.PostID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM duplicate_groups WHERE id = ?`, groupID); err != nil {
			return fmt.Errorf("delete group %d: %w", groupID, err)
		}
		return nil
	})
}

// ExcludeOne removes one member from a group: records an exclusion for its
// path and deletes the post row. Other members and the on-disk file stay.
func (s *Service) ExcludeOne(ctx context.Context, groupID, postID int64) error {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if len(g.Entries) < 2 {
		return apperr.Invalid("group %d has fewer than two members", groupID)
	}
	if !isMember(g, postID) {
		return apperr.Invalid("post %d is not a member of group %d", postID, groupID)
	}

	err = s.st.WithTx(ctx, func(tx *sql.Tx) error {
		return excludeAndDeleteTx(ctx, tx, postID)
	})
	if err != nil {
		return err
	}
	return s.st.ReconcileGroups(ctx)
}

// DeleteOneWithFile deletes one member's file from disk and removes its post.
// Requires another member of the group in the same library folder, so the
// content survives next to where the deleted copy lived.
func (s *Service) DeleteOneWithFile(ctx context.Context, groupID, postID int64) error {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	var target *Entry
	for i := range g.Entries {
		if g.Entries[i].PostID == postID {
			target = &g.Entries[i]
			break
		}
	}
	if target == nil {
		return apperr.Invalid("post %d is not a member of group %d", postID, groupID)
	}
	hasPeer := false
	for _, e := range g.Entries {
		if e.PostID != postID && e.LibraryID == target.LibraryID && e.Folder == target.Folder {
			hasPeer = true
			break
		}
	}
	if !hasPeer {
		return apperr.Invalid("post %d has no same-folder peer in group %d", postID, groupID)
	}

	if err := s.deleteEntry(ctx, *target); err != nil {
		return err
	}
	return s.st.ReconcileGroups(ctx)
}

// ResolveSameFolder resolves one same-folder partition of a group: the
// best-quality member survives, the rest are deleted from disk.
func (s *Service) ResolveSameFolder(ctx context.Context, groupID, libraryID int64, folder string) error {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	folder = pathutil.Normalize(folder)

	var members []Entry
	for _, e := range g.Entries {
		if e.LibraryID == libraryID && e.Folder == folder {
			members = append(members, e)
		}
	}
	if len(members) < 2 {
		return apperr.Invalid("group %d has no same-folder partition at %q", groupID, folder)
	}

	if err := s.resolvePartitionMembers(ctx, members); err != nil {
		return err
	}
	return s.st.ReconcileGroups(ctx)
}

// ResolveAllExact resolves every unresolved exact group by keeping the
// best-quality member. Returns the number of groups resolved.
func (s *Service) ResolveAllExact(ctx context.Context) (int, error) {
	return s.resolveAllGroups(ctx, true)
}

// ResolveAll resolves every unresolved group by keeping the best-quality
// member. Returns the number of groups resolved.
func (s *Service) ResolveAll(ctx context.Context) (int, error) {
	return s.resolveAllGroups(ctx, false)
}

func (s *Service) resolveAllGroups(ctx context.Context, exactOnly bool) (int, error) {
	unresolved := false
	groups, err := s.ListGroups(ctx, &unresolved)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, g := range groups {
		if exactOnly && g.Type != store.GroupExact {
			continue
		}
		if len(g.Entries) < 2 {
			continue
		}
		keep := bestQuality(g.Entries)
		if err := s.KeepOne(ctx, g.ID, keep.PostID); err != nil {
			slog.Warn("bulk resolve: group failed", "group", g.ID, "error", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// ResolveAllSameFolder applies ResolveSameFolder to every same-folder
// partition of the unresolved groups. Returns partitions resolved.
func (s *Service) ResolveAllSameFolder(ctx context.Context, exactOnly bool) (int, error) {
	parts, err := s.SameFolderPartitions(ctx, exactOnly)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, p := range parts {
		if err := s.resolvePartitionMembers(ctx, p.Entries); err != nil {
			slog.Warn("bulk same-folder resolve failed",
				"group", p.GroupID, "folder", p.Folder, "error", err)
			continue
		}
		resolved++
	}
	if err := s.st.ReconcileGroups(ctx); err != nil {
		return resolved, err
	}
	return resolved, nil
}

// KeepAll marks a group resolved without touching any post.
func (s *Service) KeepAll(ctx context.Context, groupID int64) error {
	return s.st.SetGroupResolved(ctx, groupID, true)
}

// MarkUnresolved reopens a resolved group.
func (s *Service) MarkUnresolved(ctx context.Context, groupID int64) error {
	return s.st.SetGroupResolved(ctx, groupID, false)
}

// MarkAllUnresolved reopens every resolved group; returns the count flipped.
func (s *Service) MarkAllUnresolved(ctx context.Context) (int64, error) {
	return s.st.MarkAllUnresolved(ctx)
}

// resolvePartitionMembers keeps the best-quality member and deletes the rest
// from disk.
func (s *Service) resolvePartitionMembers(ctx context.Context, members []Entry) error {
	keep := bestQuality(members)
	for _, e := range members {
		if e.PostID == keep.PostID {
			continue
		}
		if err := s.deleteEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// deleteEntry removes a post's file from disk, then its catalog state in one
// transaction. A disk failure aborts before any catalog change.
func (s *Service) deleteEntry(ctx context.Context, e Entry) error {
	full, err := pathutil.SafeJoin(e.LibraryPath, e.RelativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return apperr.Conflict("delete file %q: %v", full, err)
	}

	return s.st.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM excluded_files WHERE library_id = ? AND relative_path = ?`,
			e.LibraryID, e.RelativePath); err != nil {
			return fmt.Errorf("clear exclusions for %q: %w", e.RelativePath, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, e.PostID); err != nil {
			return fmt.Errorf("delete post %d: %w", e.PostID, err)
		}
		return nil
	})
}

func isMember(g *Group, postID int64) bool {
	for _, e := range g.Entries {
		if e.PostID == postID {
			return true
		}
	}
	return false
}

// mergeTagsTx copies the victim's tag assignments onto the kept post,
// skipping assignments the kept post already has.
func mergeTagsTx(ctx context.Context, tx *sql.Tx, keepID, victimID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO post_tags (post_id, tag_id, source)
		SELECT ?, tag_id, source FROM post_tags WHERE post_id = ?`, keepID, victimID)
	if err != nil {
		return fmt.Errorf("merge tags %d -> %d: %w", victimID, keepID, err)
	}
	return nil
}

// mergeSourcesTx appends the victim's source URLs to the kept post's list,
// skipping URLs already present case-insensitively.
func mergeSourcesTx(ctx context.Context, tx *sql.Tx, keepID, victimID int64) error {
	have := make(map[string]struct{})
	maxOrd := -1
	rows, err := tx.QueryContext(ctx,
		`SELECT url, ord FROM post_sources WHERE post_id = ?`, keepID)
	if err != nil {
		return fmt.Errorf("load kept sources: %w", err)
	}
	for rows.Next() {
		var url string
		var ord int
		if err := rows.Scan(&url, &ord); err != nil {
			rows.Close()
			return err
		}
		have[strings.ToLower(url)] = struct{}{}
		if ord > maxOrd {
			maxOrd = ord
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	vrows, err := tx.QueryContext(ctx,
		`SELECT url FROM post_sources WHERE post_id = ? ORDER BY ord`, victimID)
	if err != nil {
		return fmt.Errorf("load victim sources: %w", err)
	}
	var incoming []string
	for vrows.Next() {
		var url string
		if err := vrows.Scan(&url); err != nil {
			vrows.Close()
			return err
		}
		incoming = append(incoming, url)
	}
	vrows.Close()
	if err := vrows.Err(); err != nil {
		return err
	}

	for _, url := range incoming {
		if _, ok := have[strings.ToLower(url)]; ok {
			continue
		}
		maxOrd++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO post_sources (post_id, url, ord) VALUES (?, ?, ?)`,
			keepID, url, maxOrd); err != nil {
			return fmt.Errorf("merge source %q: %w", url, err)
		}
		have[strings.ToLower(url)] = struct{}{}
	}
	return nil
}

// excludeAndDeleteTx records an exclusion for the post's path (unless the
// path is already excluded) and deletes the post row.
func excludeAndDeleteTx(ctx context.Context, tx *sql.Tx, postID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO excluded_files
			(library_id, relative_path, content_hash, excluded_date, reason)
		SELECT library_id, relative_path, content_hash, ?, ?
		FROM posts WHERE id = ?`,
		time.Now().Unix(), exclusionReason, postID)
	if err != nil {
		return fmt.Errorf("record exclusion for post %d: %w", postID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, postID); err != nil {
		return fmt.Errorf("delete post %d: %w", postID, err)
	}
	return nil
}
