package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shiro-booru/shiro/internal/store"
	"github.com/shiro-booru/shiro/internal/tags"
)

// folderTagBatchSize is the page/transaction size of the folder-tag job.
const folderTagBatchSize = 500

// runApplyFolderTags reconciles every post's source=folder tag set with the
// tags derived from its directory segments. Each page commits on its own; a
// failed page is logged and counted, later pages still run.
func runApplyFolderTags(ctx context.Context, jc *JobContext, st *store.Store) (string, error) {
	totalPosts, err := st.CountPosts(ctx)
	if err != nil {
		return "", err
	}

	var processed, added, removed, failedBatches int64
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page, err := st.ListPostPathsAfter(ctx, afterID, folderTagBatchSize)
		if err != nil {
			return "", err
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		// Desired folder tags per post, and the union of names to materialize.
		desired := make(map[int64][]string, len(page))
		var names []string
		seenName := make(map[string]struct{})
		ids := make([]int64, len(page))
		for i, ref := range page {
			ids[i] = ref.ID
			ts := tags.FromFolders(ref.RelativePath)
			desired[ref.ID] = ts
			for _, name := range ts {
				if _, ok := seenName[name]; !ok {
					seenName[name] = struct{}{}
					names = append(names, name)
				}
			}
		}

		tagIDs, err := st.EnsureTags(ctx, names)
		if err != nil {
			slog.Warn("folder tags: ensure tags", "error", err)
			failedBatches++
			processed += int64(len(page))
			continue
		}

		current, err := st.FolderTagsForPosts(ctx, ids)
		if err != nil {
			slog.Warn("folder tags: load current", "error", err)
			failedBatches++
			processed += int64(len(page))
			continue
		}
		currentByPost := make(map[int64]map[int64]string) // post → tag id → name
		for _, c := range current {
			m := currentByPost[c.PostID]
			if m == nil {
				m = make(map[int64]string)
				currentByPost[c.PostID] = m
			}
			m[c.TagID] = c.Name
		}

		var add, remove []store.PostTag
		for _, ref := range page {
			want := make(map[int64]struct{})
			for _, name := range desired[ref.ID] {
				id, ok := tagIDs[name]
				if !ok {
					continue
				}
				want[id] = struct{}{}
				if _, has := currentByPost[ref.ID][id]; !has {
					add = append(add, store.PostTag{PostID: ref.ID, TagID: id, Source: string(tags.SourceFolder)})
				}
			}
			for tagID := range currentByPost[ref.ID] {
				if _, ok := want[tagID]; !ok {
					remove = append(remove, store.PostTag{PostID: ref.ID, TagID: tagID, Source: string(tags.SourceFolder)})
				}
			}
		}

		if err := st.ApplyPostTagChanges(ctx, add, remove); err != nil {
			slog.Warn("folder tags: apply batch", "error", err)
			failedBatches++
		} else {
			added += int64(len(add))
			removed += int64(len(remove))
		}
		processed += int64(len(page))

		jc.Reporter.Update(JobState{
			Activity: "applying folder tags",
			Current:  processed,
			Total:    totalPosts,
		})
	}

	summary := fmt.Sprintf("folder tags: %d added, %d removed across %d posts, %d failed batches",
		added, removed, processed, failedBatches)
	jc.Reporter.Update(JobState{Final: summary})
	return summary, nil
}
