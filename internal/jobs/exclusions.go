package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/shiro-booru/shiro/internal/hasher"
	"github.com/shiro-booru/shiro/internal/pathutil"
	"github.com/shiro-booru/shiro/internal/store"
)

// exclusionBatchSize is the delete batch size of the exclusion cleanup job.
const exclusionBatchSize = 500

// runCleanupExclusions drops exclusion records whose file is gone or whose
// on-disk content no longer matches the excluded hash.
func runCleanupExclusions(ctx context.Context, jc *JobContext, st *store.Store) (string, error) {
	refs, err := st.ListExclusions(ctx)
	if err != nil {
		return "", err
	}

	var stale []int64
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		jc.Reporter.Update(JobState{
			Activity: "checking exclusions",
			Current:  int64(i + 1),
			Total:    int64(len(refs)),
		})

		full, err := pathutil.SafeJoin(ref.LibraryPath, ref.RelativePath)
		if err != nil {
			// Path escapes its library root: the record is unusable.
			stale = append(stale, ref.ID)
			continue
		}
		if _, err := os.Stat(full); err != nil {
			if os.IsNotExist(err) {
				stale = append(stale, ref.ID)
			} else {
				slog.Warn("cleanup exclusions: stat", "path", full, "error", err)
			}
			continue
		}
		hash, err := hasher.File(full)
		if err != nil {
			slog.Warn("cleanup exclusions: hash", "path", full, "error", err)
			continue
		}
		if hash != ref.ContentHash {
			stale = append(stale, ref.ID)
		}
	}

	for i := 0; i < len(stale); i += exclusionBatchSize {
		end := min(i+exclusionBatchSize, len(stale))
		if err := st.DeleteExclusionsByIDs(ctx, stale[i:end]); err != nil {
			return "", err
		}
	}

	summary := fmt.Sprintf("removed %d stale exclusions of %d checked", len(stale), len(refs))
	jc.Reporter.Update(JobState{Final: summary})
	return summary, nil
}
