// Package dupes materializes duplicate groups for review and applies
// resolutions: keeping one post, excluding, or deleting files from disk.
package dupes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shiro-booru/shiro/internal/pathutil"
	"github.com/shiro-booru/shiro/internal/store"
)

// Entry is one group member with the post details a reviewer needs.
type Entry struct {
	PostID           int64     `json:"post_id"`
	LibraryID        int64     `json:"library_id"`
	LibraryName      string    `json:"library_name"`
	LibraryPath      string    `json:"-"`
	RelativePath     string    `json:"relative_path"`
	Folder           string    `json:"folder"`
	ContentHash      string    `json:"content_hash"`
	ContentType      string    `json:"content_type"`
	SizeBytes        int64     `json:"size_bytes"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	FileModifiedDate time.Time `json:"file_modified_date"`
}

// Group is a duplicate group with its member entries.
type Group struct {
	ID                int64     `json:"id"`
	Type              string    `json:"type"`
	SimilarityPercent *int      `json:"similarity_percent,omitempty"`
	IsResolved        bool      `json:"is_resolved"`
	DetectedDate      time.Time `json:"detected_date"`
	Entries           []Entry   `json:"entries"`
}

// SameFolderPartition is the subset of one unresolved group whose members
// share a library and parent folder.
type SameFolderPartition struct {
	GroupID   int64   `json:"group_id"`
	GroupType string  `json:"group_type"`
	LibraryID int64   `json:"library_id"`
	Folder    string  `json:"folder"`
	Entries   []Entry `json:"entries"`
}

// Service reads and resolves duplicate groups.
type Service struct {
	st *store.Store
}

// NewService creates a Service.
func NewService(st *store.Store) *Service {
	return &Service{st: st}
}

// ListGroups returns groups with member entries, optionally filtered by the
// resolved flag, newest first.
func (s *Service) ListGroups(ctx context.Context, resolved *bool) ([]Group, error) {
	raw, err := s.st.ListGroups(ctx, resolved)
	if err != nil {
		return nil, err
	}
	return s.attachEntries(ctx, raw)
}

// GetGroup loads one group with entries.
func (s *Service) GetGroup(ctx context.Context, id int64) (*Group, error) {
	raw, err := s.st.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	groups, err := s.attachEntries(ctx, []store.DuplicateGroup{*raw})
	if err != nil {
		return nil, err
	}
	return &groups[0], nil
}

// SameFolderPartitions computes the same-folder subsets of all unresolved
// groups. Only partitions with ≥2 members are returned.
func (s *Service) SameFolderPartitions(ctx context.Context, exactOnly bool) ([]SameFolderPartition, error) {
	unresolved := false
	groups, err := s.ListGroups(ctx, &unresolved)
	if err != nil {
		return nil, err
	}

	var parts []SameFolderPartition
	for _, g := range groups {
		if exactOnly && g.Type != store.GroupExact {
			continue
		}
		byFolder := make(map[string][]Entry)
		for _, e := range g.Entries {
			key := fmt.Sprintf("%d\x00%s", e.LibraryID, e.Folder)
			byFolder[key] = append(byFolder[key], e)
		}
		keys := make([]string, 0, len(byFolder))
		for k := range byFolder {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			entries := byFolder[k]
			if len(entries) < 2 {
				continue
			}
			parts = append(parts, SameFolderPartition{
				GroupID:   g.ID,
				GroupType: g.Type,
				LibraryID: entries[0].LibraryID,
				Folder:    entries[0].Folder,
				Entries:   entries,
			})
		}
	}
	return parts, nil
}

// attachEntries loads post details for every group's member ids in one query.
func (s *Service) attachEntries(ctx context.Context, raw []store.DuplicateGroup) ([]Group, error) {
	var ids []int64
	for _, g := range raw {
		ids = append(ids, g.PostIDs...)
	}
	entries, err := s.loadEntries(ctx, ids)
	if err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(raw))
	for _, g := range raw {
		out := Group{
			ID:                g.ID,
			Type:              g.Type,
			SimilarityPercent: g.SimilarityPercent,
			IsResolved:        g.IsResolved,
			DetectedDate:      g.DetectedDate,
		}
		for _, pid := range g.PostIDs {
			if e, ok := entries[pid]; ok {
				out.Entries = append(out.Entries, e)
			}
		}
		groups = append(groups, out)
	}
	return groups, nil
}

func (s *Service) loadEntries(ctx context.Context, postIDs []int64) (map[int64]Entry, error) {
	out := make(map[int64]Entry, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	placeholders := strings.Repeat("?,", len(postIDs)-1) + "?"
	args := make([]any, len(postIDs))
	for i, id := range postIDs {
		args[i] = id
	}

	rows, err := s.st.DB().QueryContext(ctx, `
		SELECT p.id, p.library_id, l.name, l.path, p.relative_path, p.content_hash,
		       p.content_type, p.size_bytes, p.width, p.height, p.file_modified_date
		FROM posts p JOIN libraries l ON l.id = p.library_id
		WHERE p.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load group entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var mtime int64
		if err := rows.Scan(&e.PostID, &e.LibraryID, &e.LibraryName, &e.LibraryPath,
			&e.RelativePath, &e.ContentHash, &e.ContentType, &e.SizeBytes,
			&e.Width, &e.Height, &mtime); err != nil {
			return nil, err
		}
		e.FileModifiedDate = time.Unix(mtime, 0).UTC()
		e.Folder = pathutil.ParentFolder(e.RelativePath)
		out[e.PostID] = e
	}
	return out, rows.Err()
}

// bestQuality orders entries by (pixel area desc, size desc, mtime desc,
// id desc) and returns the winner.
func bestQuality(entries []Entry) Entry {
	best := entries[0]
	for _, e := range entries[1:] {
		if qualityLess(best, e) {
			best = e
		}
	}
	return best
}

// qualityLess reports whether b beats a.
func qualityLess(a, b Entry) bool {
	areaA, areaB := a.Width*a.Height, b.Width*b.Height
	if areaA != areaB {
		return areaA < areaB
	}
	if a.SizeBytes != b.SizeBytes {
		return a.SizeBytes < b.SizeBytes
	}
	if !a.FileModifiedDate.Equal(b.FileModifiedDate) {
		return a.FileModifiedDate.Before(b.FileModifiedDate)
	}
	return a.PostID < b.PostID
}
