package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shiro-booru/shiro/internal/media"
	"github.com/shiro-booru/shiro/internal/store"
)

// derivedBatchSize is the per-transaction batch size of the metadata and
// similarity jobs.
const derivedBatchSize = 100

// runExtractMetadata reads dimensions off disk and records content types.
// Undecodable files keep (0,0) dimensions but still get their MIME recorded.
func runExtractMetadata(ctx context.Context, jc *JobContext, st *store.Store, parallelism int) (string, error) {
	refs, err := st.ListPostsForMetadata(ctx, jc.Mode == ModeAll)
	if err != nil {
		return "", err
	}
	if parallelism < 1 {
		parallelism = 1
	}

	var done, failed int64
	total := int64(len(refs))
	for start := 0; start < len(refs); start += derivedBatchSize {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		batch := refs[start:min(start+derivedBatchSize, len(refs))]

		var mu sync.Mutex
		updates := make([]store.MetadataUpdate, 0, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)
		for _, ref := range batch {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				full := filepath.Join(ref.LibraryPath, filepath.FromSlash(ref.RelativePath))
				w, h, err := media.Dimensions(full)
				if err != nil {
					slog.Warn("extract metadata", "path", full, "error", err)
					mu.Lock()
					failed++
					mu.Unlock()
					return nil
				}
				mu.Lock()
				updates = append(updates, store.MetadataUpdate{
					PostID:      ref.ID,
					Width:       w,
					Height:      h,
					ContentType: media.ContentType(ref.RelativePath),
				})
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if err := st.SetPostMetadataBatch(ctx, updates); err != nil {
			slog.Warn("metadata batch write failed", "posts", len(updates), "error", err)
			failed += int64(len(updates))
		} else {
			done += int64(len(updates))
		}

		jc.Reporter.Update(JobState{
			Activity: "extracting metadata",
			Current:  int64(min(start+derivedBatchSize, len(refs))),
			Total:    total,
		})
	}

	summary := fmt.Sprintf("metadata extracted for %d posts, %d failures", done, failed)
	jc.Reporter.Update(JobState{Final: summary})
	return summary, nil
}
