package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiro-booru/shiro/internal/apperr"
	"github.com/shiro-booru/shiro/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database))
	return New(database)
}

func seedLibrary(t *testing.T, st *Store) *Library {
	t.Helper()
	lib, err := st.CreateLibrary(context.Background(), "test", t.TempDir(), 0)
	require.NoError(t, err)
	return lib
}

func seedPost(t *testing.T, st *Store, libID int64, relPath, hash string) int64 {
	t.Helper()
	posts := []Post{{
		LibraryID:        libID,
		RelativePath:     relPath,
		ContentHash:      hash,
		SizeBytes:        100,
		ContentType:      "image/jpeg",
		ImportDate:       time.Now(),
		FileModifiedDate: time.Now(),
	}}
	require.NoError(t, st.InsertPostsBatch(context.Background(), posts))
	return posts[0].ID
}

func TestCreateLibraryValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateLibrary(ctx, "  ", t.TempDir(), 0)
	assert.True(t, apperr.IsInvalid(err), "blank name: %v", err)

	_, err = st.CreateLibrary(ctx, "lib", "/no/such/dir", 0)
	assert.True(t, apperr.IsInvalid(err), "missing dir: %v", err)
}

func TestCreateLibraryNameConflict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateLibrary(ctx, "photos", t.TempDir(), 0)
	require.NoError(t, err)
	_, err = st.CreateLibrary(ctx, "photos", t.TempDir(), 0)
	assert.True(t, apperr.IsConflict(err), "duplicate name: %v", err)
}

func TestLibraryNotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetLibrary(ctx, 999)
	assert.True(t, apperr.IsNotFound(err))
	assert.True(t, apperr.IsNotFound(st.UpdateLibrary(ctx, 999, "x", 0)))
	assert.True(t, apperr.IsNotFound(st.DeleteLibrary(ctx, 999)))
}

func TestIgnoredPrefixRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lib := seedLibrary(t, st)

	require.NoError(t, st.AddIgnoredPrefix(ctx, lib.ID, `Trash\old`))
	// Re-adding the same prefix is a no-op, not an error.
	require.NoError(t, st.AddIgnoredPrefix(ctx, lib.ID, "Trash/old"))

	got, err := st.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Trash/old"}, got.IgnoredPrefixes)

	require.NoError(t, st.RemoveIgnoredPrefix(ctx, lib.ID, "Trash/old"))
	assert.True(t, apperr.IsNotFound(st.RemoveIgnoredPrefix(ctx, lib.ID, "Trash/old")))
}

func TestApplySyncUpdatesHashChangeResetsDerived(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lib := seedLibrary(t, st)
	id := seedPost(t, st, lib.ID, "a.jpg", "hash1")

	_, err := st.DB().ExecContext(ctx,
		`UPDATE posts SET width = 640, height = 480, pdq_hash = 'abc' WHERE id = ?`, id)
	require.NoError(t, err)

	require.NoError(t, st.ApplySyncUpdates(ctx, []SyncUpdate{{
		PostID:           id,
		RelativePath:     "a.jpg",
		SizeBytes:        200,
		FileModifiedDate: time.Now(),
		ContentHash:      "hash2",
		HashChanged:      true,
	}}))

	p, err := st.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hash2", p.ContentHash)
	assert.Zero(t, p.Width)
	assert.Zero(t, p.Height)
	assert.Empty(t, p.PDQHash)
}

func TestApplySyncUpdatesMove(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lib := seedLibrary(t, st)
	id := seedPost(t, st, lib.ID, "old/a.jpg", "hash1")

	require.NoError(t, st.ApplySyncUpdates(ctx, []SyncUpdate{{
		PostID:           id,
		RelativePath:     "new/a.jpg",
		SizeBytes:        100,
		FileModifiedDate: time.Now(),
		ContentHash:      "hash1",
		ContentType:      "image/jpeg",
		IdentityDevice:   "dev1",
		IdentityValue:    "ino1",
		IsMove:           true,
	}}))

	p, err := st.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new/a.jpg", p.RelativePath)
	assert.Equal(t, "hash1", p.ContentHash)
	assert.Equal(t, "dev1", p.FileIdentityDevice)
	assert.Equal(t, "ino1", p.FileIdentityValue)
}

func TestAuditTrailFollowsPostLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lib := seedLibrary(t, st)
	id := seedPost(t, st, lib.ID, "a.jpg", "hash1")

	require.NoError(t, st.ApplySyncUpdates(ctx, []SyncUpdate{{
		PostID: id, RelativePath: "b.jpg", SizeBytes: 100,
		FileModifiedDate: time.Now(), ContentHash: "hash1",
		ContentType: "image/jpeg", IsMove: true,
	}}))

	entries, err := st.AuditForPost(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2, "insert + path update")
	// Newest first.
	assert.Equal(t, "update", entries[0].Operation)
	assert.Equal(t, "relative_path", entries[0].Field)
	assert.Equal(t, "a.jpg", entries[0].OldValue)
	assert.Equal(t, "b.jpg", entries[0].NewValue)
	assert.Equal(t, "insert", entries[1].Operation)
}

func TestGroupSignatureIsOrderIndependent(t *testing.T) {
	assert.Equal(t, GroupSignature([]int64{3, 1, 2}), GroupSignature([]int64{2, 3, 1}))
	assert.Equal(t, "1,2,3", GroupSignature([]int64{3, 1, 2}))
	assert.NotEqual(t, GroupSignature([]int64{1, 2}), GroupSignature([]int64{1, 2, 3}))
}

func TestDuplicateGroupLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lib := seedLibrary(t, st)
	p1 := seedPost(t, st, lib.ID, "a.jpg", "h1")
	p2 := seedPost(t, st, lib.ID, "b.jpg", "h1")
	p3 := seedPost(t, st, lib.ID, "c.jpg", "h2")

	sim := 84
	require.NoError(t, st.InsertDuplicateGroups(ctx, []NewGroup{
		{Type: GroupExact, PostIDs: []int64{p1, p2}},
		{Type: GroupPerceptual, SimilarityPercent: &sim, PostIDs: []int64{p2, p3}},
	}))

	groups, err := st.ListGroups(ctx, nil)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	var exact, perceptual *DuplicateGroup
	for i := range groups {
		switch groups[i].Type {
		case GroupExact:
			exact = &groups[i]
		case GroupPerceptual:
			perceptual = &groups[i]
		}
	}
	require.NotNil(t, exact)
	require.NotNil(t, perceptual)
	assert.ElementsMatch(t, []int64{p1, p2}, exact.PostIDs)
	require.NotNil(t, perceptual.SimilarityPercent)
	assert.Equal(t, 84, *perceptual.SimilarityPercent)

	// Resolving one group makes its signature sticky and survives the
	// pre-detection purge of unresolved groups.
	require.NoError(t, st.SetGroupResolved(ctx, exact.ID, true))
	sigs, err := st.ResolvedSignatures(ctx)
	require.NoError(t, err)
	_, ok := sigs[GroupSignature([]int64{p2, p1})]
	assert.True(t, ok)

	require.NoError(t, st.DeleteUnresolvedGroups(ctx))
	groups, err = st.ListGroups(ctx, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, exact.ID, groups[0].ID)

	n, err := st.MarkAllUnresolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReconcileGroupsDropsSingletons(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lib := seedLibrary(t, st)
	p1 := seedPost(t, st, lib.ID, "a.jpg", "h1")
	p2 := seedPost(t, st, lib.ID, "b.jpg", "h1")

	require.NoError(t, st.InsertDuplicateGroups(ctx, []NewGroup{
		{Type: GroupExact, PostIDs: []int64{p1, p2}},
	}))
	groups, err := st.ListGroups(ctx, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	// Deleting a member leaves a singleton group; reconcile removes it.
	require.NoError(t, st.DeletePostsByIDs(ctx, []int64{p2}))
	require.NoError(t, st.ReconcileGroups(ctx))

	groups, err = st.ListGroups(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestJobHistoryPaging(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		id, err := st.InsertJobExecution(ctx, fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, st.FinishJobExecution(ctx, id, JobCompleted, ""))
	}

	page1, total, err := st.JobHistory(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, page1, 3)
	assert.Equal(t, "job-6", page1[0].JobName, "newest first")

	page3, _, err := st.JobHistory(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "job-0", page3[0].JobName)
}

func TestMarkStaleJobExecutionsFailed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.InsertJobExecution(ctx, "stuck", time.Now())
	require.NoError(t, err)
	done, err := st.InsertJobExecution(ctx, "done", time.Now())
	require.NoError(t, err)
	require.NoError(t, st.FinishJobExecution(ctx, done, JobCompleted, ""))

	require.NoError(t, st.MarkStaleJobExecutionsFailed(ctx))

	history, _, err := st.JobHistory(ctx, 1, 10)
	require.NoError(t, err)
	byName := map[string]JobExecution{}
	for _, e := range history {
		byName[e.JobName] = e
	}
	assert.Equal(t, JobFailed, byName["stuck"].Status)
	assert.Equal(t, "interrupted by shutdown", byName["stuck"].ErrorMessage)
	assert.Equal(t, JobCompleted, byName["done"].Status)
}

func TestExclusionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lib := seedLibrary(t, st)

	require.NoError(t, st.InsertExclusion(ctx, lib.ID, "dup.jpg", "h1", "duplicate"))
	// Same (library, path) again is ignored.
	require.NoError(t, st.InsertExclusion(ctx, lib.ID, "dup.jpg", "h1", "duplicate"))

	byPath, err := st.ExclusionsByPath(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"dup.jpg": "h1"}, byPath)

	refs, err := st.ListExclusions(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, lib.Path, refs[0].LibraryPath)

	require.NoError(t, st.DeleteExclusionsByIDs(ctx, []int64{refs[0].ID}))
	refs, err = st.ListExclusions(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestScheduleCRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sched, err := st.CreateSchedule(ctx, "scan-all-libraries", "0 3 * * *", true)
	require.NoError(t, err)

	list, err := st.ListSchedules(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "scan-all-libraries", list[0].JobName)

	require.NoError(t, st.UpdateSchedule(ctx, sched.ID, "30 4 * * *", false))
	list, err = st.ListSchedules(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, list, "disabled schedules are filtered out")

	last := time.Now().Truncate(time.Second)
	next := last.Add(24 * time.Hour)
	require.NoError(t, st.TouchScheduleRun(ctx, sched.ID, last, next))
	got, err := st.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, last.Unix(), got.LastRun.Unix())

	require.NoError(t, st.DeleteSchedule(ctx, sched.ID))
	assert.True(t, apperr.IsNotFound(st.DeleteSchedule(ctx, sched.ID)))
}
