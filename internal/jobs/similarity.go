package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shiro-booru/shiro/internal/pdq"
	"github.com/shiro-booru/shiro/internal/store"
)

// runComputeSimilarity computes PDQ-256 hashes for image posts. A post whose
// file cannot be decoded keeps a null hash and is counted as a failure.
func runComputeSimilarity(ctx context.Context, jc *JobContext, st *store.Store, parallelism int) (string, error) {
	refs, err := st.ListImagePostsForSimilarity(ctx, jc.Mode == ModeAll)
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
		updates := make([]store.PDQUpdate, 0, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)
		for _, ref := range batch {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				full := filepath.Join(ref.LibraryPath, filepath.FromSlash(ref.RelativePath))
				h, err := pdq.FromFile(full)
				if err != nil {
					slog.Warn("compute pdq", "path", full, "error", err)
					mu.Lock()
					failed++
					mu.Unlock()
					return nil
				}
				mu.Lock()
				updates = append(updates, store.PDQUpdate{PostID: ref.ID, Hash: h.String()})
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if err := st.SetPostPDQBatch(ctx, updates); err != nil {
			slog.Warn("pdq batch write failed", "posts", len(updates), "error", err)
			failed += int64(len(updates))
		} else {
			done += int64(len(updates))
		}

		jc.Reporter.Update(JobState{
			Activity: "computing perceptual hashes",
			Current:  int64(min(start+derivedBatchSize, len(refs))),
			Total:    total,
		})
	}

	summary := fmt.Sprintf("hashed %d images, %d failures", done, failed)
	jc.Reporter.Update(JobState{Final: summary})
	return summary, nil
}
