// Package syncer reconciles an on-disk directory tree with the catalog:
// new files become posts, changed files are updated, renames are recognized
// through filesystem identity, and vanished files are removed.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shiro-booru/shiro/internal/fileident"
	"github.com/shiro-booru/shiro/internal/hasher"
	"github.com/shiro-booru/shiro/internal/ingest"
	"github.com/shiro-booru/shiro/internal/media"
	"github.com/shiro-booru/shiro/internal/pathutil"
	"github.com/shiro-booru/shiro/internal/store"
)

// orphanBatchSize is the number of orphaned posts deleted per transaction.
const orphanBatchSize = 100

// mtimeTolerance absorbs filesystem timestamp granularity when deciding
// whether a file changed.
const mtimeTolerance = time.Second

// ProgressFunc receives a 0–100 percentage.
type ProgressFunc func(percent int)

// StatusFunc receives a short phase description.
type StatusFunc func(phase string)

// Result summarizes one library sync.
type Result struct {
	Scanned int64 `json:"scanned"`
	Added   int64 `json:"added"`
	Updated int64 `json:"updated"`
	Moved   int64 `json:"moved"`
	Removed int64 `json:"removed"`
}

// Options tunes a Syncer.
type Options struct {
	Parallelism int // scan workers, minimum 1
}

// Syncer synchronizes one library at a time. Safe to reuse across calls;
// all per-invocation state is local to SyncLibrary.
type Syncer struct {
	st   *store.Store
	opts Options
}

// New creates a Syncer.
func New(st *store.Store, opts Options) *Syncer {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Syncer{st: st, opts: opts}
}

// potentialMove is a new path whose file identity matched an existing post;
// the decision is deferred until all paths have been seen.
type potentialMove struct {
	entry    Entry
	hash     string
	identity fileident.Identity
}

// SyncLibrary makes the catalog reflect the current on-disk state of lib.
// Per-file errors are logged and skipped; the run only fails on storage
// errors or cancellation. On cancellation, updates gathered so far are still
// applied but orphan removal is skipped — unseen files must not be deleted
// from a partial scan.
func (s *Syncer) SyncLibrary(ctx context.Context, lib *store.Library, progress ProgressFunc, status StatusFunc) (Result, error) {
	var res Result
	if progress == nil {
		progress = func(int) {}
	}
	if status == nil {
		status = func(string) {}
	}

	// Phase 1: enumerate supported media under the root.
	status("enumerating files")
	entries, err := s.enumerate(ctx, lib.Path)
	if err != nil {
		return res, err
	}
	total := len(entries)

	// Phase 2: snapshot existing state in a single pass.
	status("loading catalog state")
	existing, err := s.st.SnapshotLibraryPosts(ctx, lib.ID)
	if err != nil {
		return res, err
	}
	excluded, err := s.st.ExclusionsByPath(ctx, lib.ID)
	if err != nil {
		return res, err
	}
	ignored, err := s.st.IgnoredPrefixes(ctx, lib.ID)
	if err != nil {
		return res, err
	}

	byRelPath := make(map[string]*store.ExistingPost, len(existing))
	byIdentity := make(map[string][]*store.ExistingPost)
	for i := range existing {
		p := &existing[i]
		byRelPath[p.RelativePath] = p
		if p.IdentityDevice != "" && p.IdentityValue != "" {
			key := p.IdentityDevice + "|" + p.IdentityValue
			byIdentity[key] = append(byIdentity[key], p)
		}
	}

	// Phase 3: parallel scan.
	status("scanning files")
	var (
		mu        sync.Mutex
		seen      = make(map[string]struct{}, total)
		updates   []store.SyncUpdate
		moves     []potentialMove
		processed atomic.Int64
		updated   atomic.Int64
	)
	markSeen := func(rel string) {
		mu.Lock()
		seen[rel] = struct{}{}
		mu.Unlock()
	}

	pipeline := ingest.New(s.st)

	g, scanCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for _, e := range entries {
		if scanCtx.Err() != nil {
			break
		}
		entry := e
		g.Go(func() error {
			s.scanOne(entry, lib, byRelPath, byIdentity, excluded, ignored,
				markSeen, &mu, &updates, &moves, &updated, pipeline)
			n := processed.Add(1)
			if total > 0 {
				progress(int(n * 100 / int64(total)))
			}
			return nil
		})
	}
	_ = g.Wait()

	// Phase 4: drain the ingestion pipeline.
	status("writing new posts")
	pipeline.Flush()
	newPostIDs := pipeline.InsertedIDs()

	// Phase 5: resolve deferred moves.
	status("resolving moves")
	consumed := make(map[int64]struct{})
	var extraPosts []store.Post
	for _, pm := range moves {
		src := pickMoveSource(byIdentity[pm.identity.Device+"|"+pm.identity.Value], seen, consumed)
		if src == nil {
			// Coincidental identity match on a stale record: a genuine new post.
			extraPosts = append(extraPosts, newPost(lib.ID, pm.entry, pm.hash, pm.identity))
			continue
		}
		consumed[src.ID] = struct{}{}
		seen[src.RelativePath] = struct{}{} // not an orphan
		updates = append(updates, store.SyncUpdate{
			PostID:           src.ID,
			RelativePath:     pm.entry.RelativePath,
			SizeBytes:        pm.entry.Size,
			FileModifiedDate: pm.entry.MTime,
			ContentHash:      pm.hash,
			IdentityDevice:   pm.identity.Device,
			IdentityValue:    pm.identity.Value,
			ContentType:      media.ContentType(pm.entry.RelativePath),
			IsMove:           true,
		})
		res.Moved++
	}
	if len(extraPosts) > 0 {
		if err := s.st.InsertPostsBatch(ctx, extraPosts); err != nil {
			slog.Warn("sync: insert deferred posts", "error", err)
		} else {
			for i := range extraPosts {
				newPostIDs = append(newPostIDs, extraPosts[i].ID)
			}
		}
	}

	// Phase 6: apply updates and moves in one transactional pass.
	status("applying updates")
	if err := s.st.ApplySyncUpdates(ctx, updates); err != nil {
		return res, fmt.Errorf("apply sync updates: %w", err)
	}

	// Phase 7: copy human-applied tags from same-hash peers onto new posts.
	if len(newPostIDs) > 0 {
		if copied, err := s.st.CopyInheritedTags(ctx, newPostIDs); err != nil {
			slog.Warn("sync: copy inherited tags", "error", err)
		} else if copied > 0 {
			slog.Info("sync: inherited tags copied", "assignments", copied)
		}
	}

	res.Scanned = processed.Load()
	res.Added = int64(len(newPostIDs))
	res.Updated = updated.Load()

	if ctx.Err() != nil {
		// Partial scan: leave unseen posts in place.
		return res, ctx.Err()
	}

	// Phase 8: orphan removal, batches of orphanBatchSize.
	status("removing orphans")
	var orphans []int64
	for rel, p := range byRelPath {
		if _, ok := seen[rel]; ok {
			continue
		}
		if _, ok := consumed[p.ID]; ok {
			continue
		}
		orphans = append(orphans, p.ID)
	}
	for i := 0; i < len(orphans); i += orphanBatchSize {
		end := min(i+orphanBatchSize, len(orphans))
		if err := s.st.DeletePostsByIDs(ctx, orphans[i:end]); err != nil {
			return res, fmt.Errorf("remove orphans: %w", err)
		}
		res.Removed += int64(end - i)
	}

	progress(100)
	status("done")
	slog.Info("library sync finished", "library", lib.Name,
		"scanned", res.Scanned, "added", res.Added, "updated", res.Updated,
		"moved", res.Moved, "removed", res.Removed)
	return res, nil
}

// enumerate collects all supported media entries under root.
func (s *Syncer) enumerate(ctx context.Context, root string) ([]Entry, error) {
	out := make(chan Entry, 1024)
	go walk(ctx, root, s.opts.Parallelism, out)

	var entries []Entry
	for e := range out {
		entries = append(entries, e)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// scanOne classifies a single file: ignored, excluded, unchanged, updated,
// potentially moved, or new. Hash and stat failures log and skip the file.
func (s *Syncer) scanOne(
	entry Entry,
	lib *store.Library,
	byRelPath map[string]*store.ExistingPost,
	byIdentity map[string][]*store.ExistingPost,
	excluded map[string]string,
	ignored []string,
	markSeen func(string),
	mu *sync.Mutex,
	updates *[]store.SyncUpdate,
	moves *[]potentialMove,
	updated *atomic.Int64,
	pipeline *ingest.Pipeline,
) {
	rel := entry.RelativePath
	if pathutil.UnderAnyPrefix(rel, ignored) {
		return
	}
	markSeen(rel)

	// Lazily computed and reused across the checks below.
	var hash string
	computeHash := func() bool {
		if hash != "" {
			return true
		}
		h, err := hasher.File(entry.FullPath)
		if err != nil {
			slog.Warn("sync: hash file", "path", entry.FullPath, "error", err)
			return false
		}
		hash = h
		return true
	}

	if exHash, ok := excluded[rel]; ok {
		if !computeHash() {
			return
		}
		if hash == exHash {
			return // still deliberately excluded
		}
		// Content replaced since the exclusion: ingest the new file.
	}

	if prev, ok := byRelPath[rel]; ok {
		unchanged := prev.SizeBytes == entry.Size &&
			absDuration(entry.MTime.Sub(prev.FileModifiedDate)) <= mtimeTolerance
		if unchanged {
			if prev.IdentityDevice == "" || prev.IdentityValue == "" {
				if id, ok := fileident.Resolve(entry.FullPath); ok {
					mu.Lock()
					*updates = append(*updates, store.SyncUpdate{
						PostID:         prev.ID,
						RelativePath:   rel,
						IdentityDevice: id.Device,
						IdentityValue:  id.Value,
						IdentityOnly:   true,
					})
					mu.Unlock()
				}
			}
			return
		}

		if !computeHash() {
			return
		}
		id, _ := fileident.Resolve(entry.FullPath)
		mu.Lock()
		*updates = append(*updates, store.SyncUpdate{
			PostID:           prev.ID,
			RelativePath:     rel,
			SizeBytes:        entry.Size,
			FileModifiedDate: entry.MTime,
			ContentHash:      hash,
			IdentityDevice:   id.Device,
			IdentityValue:    id.Value,
			HashChanged:      hash != prev.ContentHash,
		})
		mu.Unlock()
		updated.Add(1)
		return
	}

	// Unknown path: move candidate or brand-new post.
	if !computeHash() {
		return
	}
	id, ok := fileident.Resolve(entry.FullPath)
	if ok && len(byIdentity[id.Device+"|"+id.Value]) > 0 {
		mu.Lock()
		*moves = append(*moves, potentialMove{entry: entry, hash: hash, identity: id})
		mu.Unlock()
		return
	}
	pipeline.Enqueue(newPost(lib.ID, entry, hash, id))
}

// pickMoveSource returns the first identity-matched post whose path was not
// seen this scan and that has not already been consumed as a move source.
func pickMoveSource(candidates []*store.ExistingPost, seen map[string]struct{}, consumed map[int64]struct{}) *store.ExistingPost {
	for _, c := range candidates {
		if _, wasSeen := seen[c.RelativePath]; wasSeen {
			continue
		}
		if _, used := consumed[c.ID]; used {
			continue
		}
		return c
	}
	return nil
}

func newPost(libraryID int64, entry Entry, hash string, id fileident.Identity) store.Post {
	return store.Post{
		LibraryID:          libraryID,
		RelativePath:       entry.RelativePath,
		ContentHash:        hash,
		SizeBytes:          entry.Size,
		ContentType:        media.ContentType(entry.RelativePath),
		ImportDate:         time.Now().UTC(),
		FileModifiedDate:   entry.MTime,
		FileIdentityDevice: id.Device,
		FileIdentityValue:  id.Value,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
