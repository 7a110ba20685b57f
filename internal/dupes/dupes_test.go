package dupes

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiro-booru/shiro/internal/apperr"
	"github.com/shiro-booru/shiro/internal/db"
	"github.com/shiro-booru/shiro/internal/store"
)

type fixture struct {
	st   *store.Store
	svc  *Service
	lib  *store.Library
	root string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	handle, err := db.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() })
	require.NoError(t, db.RunMigrations(handle))
	st := store.New(handle)

	root := t.TempDir()
	lib, err := st.CreateLibrary(context.Background(), "lib", root, 0)
	require.NoError(t, err)
	return &fixture{st: st, svc: NewService(st), lib: lib, root: root}
}

// addPost inserts a post and creates its backing file.
func (f *fixture) addPost(t *testing.T, rel, hash string, width, height int, size int64) int64 {
	t.Helper()
	full := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, make([]byte, size), 0o644))

	posts := []store.Post{{
		LibraryID:        f.lib.ID,
		RelativePath:     rel,
		ContentHash:      hash,
		SizeBytes:        size,
		Width:            width,
		Height:           height,
		ContentType:      "image/jpeg",
		ImportDate:       time.Now(),
		FileModifiedDate: time.Now(),
	}}
	require.NoError(t, f.st.InsertPostsBatch(context.Background(), posts))
	return posts[0].ID
}

func (f *fixture) addGroup(t *testing.T, typ string, postIDs ...int64) int64 {
	t.Helper()
	require.NoError(t, f.st.InsertDuplicateGroups(context.Background(),
		[]store.NewGroup{{Type: typ, PostIDs: postIDs}}))
	unresolved := false
	groups, err := f.st.ListGroups(context.Background(), &unresolved)
	require.NoError(t, err)
	return groups[0].ID
}

func TestKeepOneMergesAndExcludes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keep := f.addPost(t, "a/keep.jpg", "h1", 100, 100, 10)
	lose := f.addPost(t, "b/lose.jpg", "h1", 50, 50, 5)
	gid := f.addGroup(t, store.GroupExact, keep, lose)

	// The losing post carries a manual tag and a source URL.
	ids, err := f.st.EnsureTags(ctx, []string{"keepme"})
	require.NoError(t, err)
	require.NoError(t, f.st.ApplyPostTagChanges(ctx,
		[]store.PostTag{{PostID: lose, TagID: ids["keepme"], Source: "manual"}}, nil))
	_, err = f.st.DB().Exec(
		`INSERT INTO post_sources (post_id, url, ord) VALUES (?, 'https://example.com/x', 0)`, lose)
	require.NoError(t, err)

	require.NoError(t, f.svc.KeepOne(ctx, gid, keep))

	// The losing post is gone, the kept one remains.
	_, err = f.st.GetPost(ctx, lose)
	assert.True(t, apperr.IsNotFound(err))
	_, err = f.st.GetPost(ctx, keep)
	require.NoError(t, err)

	// Its file is untouched on disk.
	_, err = os.Stat(filepath.Join(f.root, "b", "lose.jpg"))
	assert.NoError(t, err)

	// Tag and source moved onto the kept post.
	var n int
	require.NoError(t, f.st.DB().QueryRow(
		`SELECT COUNT(*) FROM post_tags WHERE post_id = ?`, keep).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, f.st.DB().QueryRow(
		`SELECT COUNT(*) FROM post_sources WHERE post_id = ?`, keep).Scan(&n))
	assert.Equal(t, 1, n)

	// The losing path is excluded so the next scan will not re-ingest it.
	excl, err := f.st.ExclusionsByPath(ctx, f.lib.ID)
	require.NoError(t, err)
	assert.Equal(t, "h1", excl["b/lose.jpg"])

	// The group is gone entirely.
	_, err = f.st.GetGroup(ctx, gid)
	assert.True(t, apperr.IsNotFound(err))
}

func TestKeepOneRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	a := f.addPost(t, "a.jpg", "h1", 10, 10, 1)
	b := f.addPost(t, "b.jpg", "h1", 10, 10, 1)
	outsider := f.addPost(t, "c.jpg", "h2", 10, 10, 1)
	gid := f.addGroup(t, store.GroupExact, a, b)

	err := f.svc.KeepOne(context.Background(), gid, outsider)
	assert.True(t, apperr.IsInvalid(err))
}

func TestDeleteOneWithFileRequiresSameFolderPeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addPost(t, "x/a.jpg", "h1", 10, 10, 1)
	b := f.addPost(t, "y/b.jpg", "h1", 10, 10, 1)
	gid := f.addGroup(t, store.GroupExact, a, b)

	err := f.svc.DeleteOneWithFile(ctx, gid, a)
	assert.True(t, apperr.IsInvalid(err), "no peer in the same folder")
	_, err = os.Stat(filepath.Join(f.root, "x", "a.jpg"))
	assert.NoError(t, err, "file must not be deleted")
}

func TestDeleteOneWithFileDeletesFromDisk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addPost(t, "x/a.jpg", "h1", 10, 10, 1)
	b := f.addPost(t, "x/b.jpg", "h1", 10, 10, 1)
	gid := f.addGroup(t, store.GroupExact, a, b)

	require.NoError(t, f.svc.DeleteOneWithFile(ctx, gid, b))

	_, err := os.Stat(filepath.Join(f.root, "x", "b.jpg"))
	assert.True(t, os.IsNotExist(err))
	_, err = f.st.GetPost(ctx, b)
	assert.True(t, apperr.IsNotFound(err))

	// Group dropped below two members and was reconciled away.
	_, err = f.st.GetGroup(ctx, gid)
	assert.True(t, apperr.IsNotFound(err))
}

func TestResolveSameFolderKeepsBestQuality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	small := f.addPost(t, "x/small.jpg", "h1", 100, 100, 50)
	big := f.addPost(t, "x/big.jpg", "h2", 400, 400, 80)
	other := f.addPost(t, "y/other.jpg", "h3", 800, 800, 90)
	gid := f.addGroup(t, store.GroupPerceptual, small, big, other)

	require.NoError(t, f.svc.ResolveSameFolder(ctx, gid, f.lib.ID, "x"))

	// The larger image survives, the smaller one is deleted from disk.
	_, err := f.st.GetPost(ctx, big)
	require.NoError(t, err)
	_, err = f.st.GetPost(ctx, small)
	assert.True(t, apperr.IsNotFound(err))
	_, err = os.Stat(filepath.Join(f.root, "x", "small.jpg"))
	assert.True(t, os.IsNotExist(err))

	// The out-of-folder member is untouched.
	_, err = f.st.GetPost(ctx, other)
	require.NoError(t, err)
}

func TestResolveAllExactSkipsPerceptual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addPost(t, "a.jpg", "h1", 10, 10, 1)
	b := f.addPost(t, "b.jpg", "h1", 20, 20, 1)
	c := f.addPost(t, "c.jpg", "h2", 10, 10, 1)
	d := f.addPost(t, "d.jpg", "h3", 10, 10, 1)
	f.addGroup(t, store.GroupExact, a, b)
	f.addGroup(t, store.GroupPerceptual, c, d)

	n, err := f.svc.ResolveAllExact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Exact group resolved: only the best-quality member remains.
	_, err = f.st.GetPost(ctx, b)
	require.NoError(t, err)
	_, err = f.st.GetPost(ctx, a)
	assert.True(t, apperr.IsNotFound(err))

	// Perceptual group untouched.
	_, err = f.st.GetPost(ctx, c)
	require.NoError(t, err)
	_, err = f.st.GetPost(ctx, d)
	require.NoError(t, err)
}

func TestKeepAllAndMarkUnresolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addPost(t, "a.jpg", "h1", 10, 10, 1)
	b := f.addPost(t, "b.jpg", "h1", 10, 10, 1)
	gid := f.addGroup(t, store.GroupExact, a, b)

	require.NoError(t, f.svc.KeepAll(ctx, gid))
	g, err := f.st.GetGroup(ctx, gid)
	require.NoError(t, err)
	assert.True(t, g.IsResolved)

	require.NoError(t, f.svc.MarkUnresolved(ctx, gid))
	g, err = f.st.GetGroup(ctx, gid)
	require.NoError(t, err)
	assert.False(t, g.IsResolved)

	require.NoError(t, f.svc.KeepAll(ctx, gid))
	n, err := f.svc.MarkAllUnresolved(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSameFolderPartitions(t *testing.T) {
	f := newFixture(t)
	a := f.addPost(t, "x/a.jpg", "h1", 10, 10, 1)
	b := f.addPost(t, "x/b.jpg", "h1", 10, 10, 1)
	c := f.addPost(t, "y/c.jpg", "h1", 10, 10, 1)
	f.addGroup(t, store.GroupExact, a, b, c)

	parts, err := f.svc.SameFolderPartitions(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, parts, 1, "only the x folder has two members")
	assert.Equal(t, "x", parts[0].Folder)
	assert.Len(t, parts[0].Entries, 2)
}
