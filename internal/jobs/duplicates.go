package jobs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shiro-booru/shiro/internal/media"
	"github.com/shiro-booru/shiro/internal/metrics"
	"github.com/shiro-booru/shiro/internal/pdq"
	"github.com/shiro-booru/shiro/internal/store"
)

type pairKey struct{ a, b int64 } // a < b

func makePair(x, y int64) pairKey {
	if x < y {
		return pairKey{x, y}
	}
	return pairKey{y, x}
}

// runFindDuplicates rebuilds all unresolved duplicate groups: an exact pass
// over content hashes and a perceptual pass forming cliques under the
// Hamming-similarity thresholds. Groups whose member set was already resolved
// are never re-suggested.
func runFindDuplicates(ctx context.Context, jc *JobContext, st *store.Store, baseThreshold, crossThreshold float64) (string, error) {
	jc.Reporter.Update(JobState{Activity: "loading posts"})
	posts, err := st.PostsForDuplicateScan(ctx)
	if err != nil {
		return "", err
	}
	resolved, err := st.ResolvedSignatures(ctx)
	if err != nil {
		return "", err
	}
	if err := st.DeleteUnresolvedGroups(ctx); err != nil {
		return "", err
	}

	// Exact pass: same content hash, case-insensitive.
	jc.Reporter.Update(JobState{Activity: "grouping by content hash"})
	byHash := make(map[string][]int64)
	for _, p := range posts {
		key := strings.ToLower(p.ContentHash)
		byHash[key] = append(byHash[key], p.ID)
	}
	var newGroups []store.NewGroup
	var exactGroups int
	exactPairs := make(map[pairKey]struct{})
	for _, ids := range byHash {
		if len(ids) < 2 {
			continue
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				exactPairs[makePair(ids[i], ids[j])] = struct{}{}
			}
		}
		if _, done := resolved[store.GroupSignature(ids)]; done {
			continue
		}
		newGroups = append(newGroups, store.NewGroup{Type: store.GroupExact, PostIDs: ids})
		exactGroups++
	}

	// Perceptual pass: edges between sufficiently similar hash pairs.
	jc.Reporter.Update(JobState{Activity: "comparing perceptual hashes"})
	type vertex struct {
		id      int64
		hash    pdq.Hash
		isImage bool
	}
	var verts []vertex
	for _, p := range posts {
		h, err := pdq.Parse(p.PDQHash)
		if err != nil {
			continue
		}
		verts = append(verts, vertex{id: p.ID, hash: h, isImage: media.IsImageContentType(p.ContentType)})
	}

	adj := make(map[int64]map[int64]int) // id → neighbour id → similarity percent
	addEdge := func(a, b int64, percent int) {
		if adj[a] == nil {
			adj[a] = make(map[int64]int)
		}
		adj[a][b] = percent
	}
	var matchedPairs int
	totalCmp := int64(len(verts)) * int64(len(verts)-1) / 2
	var cmp int64
	for i := 0; i < len(verts); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for j := i + 1; j < len(verts); j++ {
			cmp++
			a, b := verts[i], verts[j]
			if _, covered := exactPairs[makePair(a.id, b.id)]; covered {
				continue
			}
			threshold := baseThreshold
			if !a.isImage || !b.isImage {
				threshold = math.Max(baseThreshold, crossThreshold)
			}
			s := pdq.Similarity(a.hash, b.hash)
			if s < threshold {
				continue
			}
			percent := int(math.Round(s * 100))
			addEdge(a.id, b.id, percent)
			addEdge(b.id, a.id, percent)
			matchedPairs++
		}
		jc.Reporter.Update(JobState{Activity: "comparing perceptual hashes", Current: cmp, Total: totalCmp})
	}

	// Greedy clique extension over the remaining vertices.
	jc.Reporter.Update(JobState{Activity: "forming groups", Current: ProgressClear, Total: ProgressClear})
	var perceptualGroups int
	for len(adj) > 0 {
		seed := pickSeed(adj)
		group := []int64{seed}

		type cand struct {
			id      int64
			percent int
		}
		var cands []cand
		for n, p := range adj[seed] {
			cands = append(cands, cand{id: n, percent: p})
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].percent != cands[j].percent {
				return cands[i].percent > cands[j].percent
			}
			return cands[i].id < cands[j].id
		})
		for _, c := range cands {
			connectedToAll := true
			for _, m := range group {
				if _, ok := adj[c.id][m]; !ok && c.id != m {
					connectedToAll = false
					break
				}
			}
			if connectedToAll {
				group = append(group, c.id)
			}
		}

		// Capture pairwise similarities before the edges are removed.
		var percents []int
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if p, ok := adj[group[i]][group[j]]; ok {
					percents = append(percents, p)
				}
			}
		}

		// Remove the group's vertices from the graph.
		for _, m := range group {
			for n := range adj[m] {
				delete(adj[n], m)
				if len(adj[n]) == 0 {
					delete(adj, n)
				}
			}
			delete(adj, m)
		}

		if len(group) < 2 {
			continue
		}
		if _, done := resolved[store.GroupSignature(group)]; done {
			continue
		}
		percent := median(percents)
		newGroups = append(newGroups, store.NewGroup{
			Type:              store.GroupPerceptual,
			SimilarityPercent: &percent,
			PostIDs:           group,
		})
		perceptualGroups++
	}

	if err := st.InsertDuplicateGroups(ctx, newGroups); err != nil {
		return "", err
	}
	metrics.DuplicateGroupsDetected.WithLabelValues(store.GroupExact).Add(float64(exactGroups))
	metrics.DuplicateGroupsDetected.WithLabelValues(store.GroupPerceptual).Add(float64(perceptualGroups))

	totalEntries := 0
	for _, g := range newGroups {
		totalEntries += len(g.PostIDs)
	}
	summary := fmt.Sprintf("%d groups (%d exact, %d perceptual), %d matched pairs, %d entries",
		len(newGroups), exactGroups, perceptualGroups, matchedPairs, totalEntries)
	jc.Reporter.Update(JobState{Final: summary})
	return summary, nil
}

// pickSeed returns the vertex with the highest degree, ties broken by the
// lowest id.
func pickSeed(adj map[int64]map[int64]int) int64 {
	var best int64
	bestDeg := -1
	for id, ns := range adj {
		if len(ns) > bestDeg || (len(ns) == bestDeg && id < best) {
			best = id
			bestDeg = len(ns)
		}
	}
	return best
}

// median of the member-pair similarity percents; the average of the two
// middle values for even counts.
func median(percents []int) int {
	if len(percents) == 0 {
		return 0
	}
	sort.Ints(percents)
	n := len(percents)
	if n%2 == 1 {
		return percents[n/2]
	}
	return (percents[n/2-1] + percents[n/2]) / 2
}
