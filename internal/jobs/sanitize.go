package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/shiro-booru/shiro/internal/store"
	"github.com/shiro-booru/shiro/internal/tags"
)

// runSanitizeTags normalizes every tag name and merges tags that collapse to
// the same sanitized name. All renames and merges commit in one transaction.
func runSanitizeTags(ctx context.Context, jc *JobContext, st *store.Store) (string, error) {
	jc.Reporter.Update(JobState{Activity: "loading tags"})
	all, err := st.AllTags(ctx)
	if err != nil {
		return "", err
	}

	groups := make(map[string][]store.Tag)
	for _, t := range all {
		clean := tags.Sanitize(t.Name)
		if clean == "" {
			continue
		}
		groups[clean] = append(groups[clean], t)
	}

	renames := make(map[int64]string)
	var merges []store.TagMerge
	var mergedAway int64
	for clean, members := range groups {
		if len(members) == 1 {
			if members[0].Name != clean {
				renames[members[0].ID] = clean
			}
			continue
		}

		// Survivor: largest post count, then lowest id.
		sort.Slice(members, func(i, j int) bool {
			if members[i].PostCount != members[j].PostCount {
				return members[i].PostCount > members[j].PostCount
			}
			return members[i].ID < members[j].ID
		})
		survivor := members[0]
		m := store.TagMerge{SurvivorID: survivor.ID, SurvivorName: clean}
		for _, victim := range members[1:] {
			m.VictimIDs = append(m.VictimIDs, victim.ID)
			if m.AdoptCategory == nil && survivor.TagCategoryID == nil && victim.TagCategoryID != nil {
				m.AdoptCategory = victim.TagCategoryID
			}
		}
		merges = append(merges, m)
		mergedAway += int64(len(m.VictimIDs))
	}

	jc.Reporter.Update(JobState{Activity: "applying tag sanitation"})
	if err := st.ApplyTagSanitation(ctx, renames, merges); err != nil {
		return "", err
	}

	summary := fmt.Sprintf("sanitized tags: %d renamed, %d merged away", len(renames), mergedAway)
	jc.Reporter.Update(JobState{Final: summary})
	return summary, nil
}
