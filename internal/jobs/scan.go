package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shiro-booru/shiro/internal/metrics"
	"github.com/shiro-booru/shiro/internal/store"
	"github.com/shiro-booru/shiro/internal/syncer"
)

// runScanAll syncs every library, folding per-library progress into one
// 0–100 bar weighted by library count.
func runScanAll(ctx context.Context, jc *JobContext, st *store.Store, sy *syncer.Syncer) (string, error) {
	libs, err := st.ListLibraries(ctx)
	if err != nil {
		return "", err
	}
	if len(libs) == 0 {
		return "no libraries configured", nil
	}

	var totals syncer.Result
	for i := range libs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		lib, err := st.GetLibrary(ctx, libs[i].ID) // reload with ignored prefixes
		if err != nil {
			return "", err
		}

		base := int64(i) * 100 / int64(len(libs))
		span := 100 / int64(len(libs))
		progress := func(percent int) {
			jc.Reporter.Update(JobState{
				Current: base + int64(percent)*span/100,
				Total:   100,
			})
		}
		status := func(phase string) {
			jc.Reporter.Update(JobState{
				Activity: fmt.Sprintf("%s: %s", lib.Name, phase),
			})
		}

		res, err := sy.SyncLibrary(ctx, lib, progress, status)
		metrics.PostsScanned.Add(float64(res.Scanned))
		totals.Scanned += res.Scanned
		totals.Added += res.Added
		totals.Updated += res.Updated
		totals.Moved += res.Moved
		totals.Removed += res.Removed
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			slog.Warn("library sync failed", "library", lib.Name, "error", err)
		}
	}

	summary := fmt.Sprintf("scanned %d, added %d, updated %d, moved %d, removed %d",
		totals.Scanned, totals.Added, totals.Updated, totals.Moved, totals.Removed)
	jc.Reporter.Update(JobState{Current: 100, Total: 100, Final: summary})
	return summary, nil
}
