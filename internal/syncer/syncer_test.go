package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiro-booru/shiro/internal/db"
	"github.com/shiro-booru/shiro/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	handle, err := db.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() })
	require.NoError(t, db.RunMigrations(handle))
	return store.New(handle)
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

func postByPath(t *testing.T, st *store.Store, libID int64, rel string) *store.ExistingPost {
	t.Helper()
	posts, err := st.SnapshotLibraryPosts(context.Background(), libID)
	require.NoError(t, err)
	for i := range posts {
		if posts[i].RelativePath == rel {
			return &posts[i]
		}
	}
	return nil
}

func TestSyncLibraryAddsNewFiles(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "cats/a.jpg", "jpeg-a")
	writeFile(t, root, "cats/b.png", "png-b")
	writeFile(t, root, "notes.txt", "not media")

	lib, err := st.CreateLibrary(context.Background(), "test", root, 0)
	require.NoError(t, err)

	s := New(st, Options{Parallelism: 2})
	res, err := s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 2, res.Scanned)
	assert.EqualValues(t, 2, res.Added)
	assert.EqualValues(t, 0, res.Removed)

	p := postByPath(t, st, lib.ID, "cats/a.jpg")
	require.NotNil(t, p)
	assert.NotEmpty(t, p.ContentHash)
	assert.EqualValues(t, len("jpeg-a"), p.SizeBytes)
}

func TestSyncLibraryIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "a.jpg", "content")

	lib, err := st.CreateLibrary(context.Background(), "test", root, 0)
	require.NoError(t, err)

	s := New(st, Options{Parallelism: 1})
	_, err = s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)

	res, err := s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Added)
	assert.EqualValues(t, 0, res.Updated)
	assert.EqualValues(t, 0, res.Moved)
	assert.EqualValues(t, 0, res.Removed)

	n, err := st.CountPosts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSyncLibraryDetectsContentChange(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	full := writeFile(t, root, "a.jpg", "original")

	lib, err := st.CreateLibrary(context.Background(), "test", root, 0)
	require.NoError(t, err)

	s := New(st, Options{Parallelism: 1})
	_, err = s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	before := postByPath(t, st, lib.ID, "a.jpg")
	require.NotNil(t, before)

	// Rewrite with different content and push mtime well past the tolerance.
	require.NoError(t, os.WriteFile(full, []byte("rewritten body"), 0o644))
	future := time.Now().Add(10 * time.Second)
	require.NoError(t, os.Chtimes(full, future, future))

	res, err := s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Updated)
	assert.EqualValues(t, 0, res.Added)

	after := postByPath(t, st, lib.ID, "a.jpg")
	require.NotNil(t, after)
	assert.Equal(t, before.ID, after.ID)
	assert.NotEqual(t, before.ContentHash, after.ContentHash)

	// Derived data must have been reset for re-derivation.
	p, err := st.GetPost(context.Background(), after.ID)
	require.NoError(t, err)
	assert.Zero(t, p.Width)
	assert.Empty(t, p.PDQHash)
}

func TestSyncLibraryDetectsRename(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	full := writeFile(t, root, "old/name.jpg", "stable content")

	lib, err := st.CreateLibrary(context.Background(), "test", root, 0)
	require.NoError(t, err)

	s := New(st, Options{Parallelism: 1})
	_, err = s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	before := postByPath(t, st, lib.ID, "old/name.jpg")
	require.NotNil(t, before)
	if before.IdentityDevice == "" {
		t.Skip("filesystem identity unavailable on this platform")
	}

	newFull := filepath.Join(root, "new", "renamed.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(newFull), 0o755))
	require.NoError(t, os.Rename(full, newFull))

	res, err := s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Moved)
	assert.EqualValues(t, 0, res.Added)
	assert.EqualValues(t, 0, res.Removed)

	moved := postByPath(t, st, lib.ID, "new/renamed.jpg")
	require.NotNil(t, moved)
	assert.Equal(t, before.ID, moved.ID)
	assert.Nil(t, postByPath(t, st, lib.ID, "old/name.jpg"))
}

func TestSyncLibraryRemovesOrphans(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	keep := writeFile(t, root, "keep.jpg", "keep")
	gone := writeFile(t, root, "gone.jpg", "gone")
	_ = keep

	lib, err := st.CreateLibrary(context.Background(), "test", root, 0)
	require.NoError(t, err)

	s := New(st, Options{Parallelism: 1})
	_, err = s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(gone))

	res, err := s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Removed)
	assert.Nil(t, postByPath(t, st, lib.ID, "gone.jpg"))
	assert.NotNil(t, postByPath(t, st, lib.ID, "keep.jpg"))
}

func TestSyncLibraryHonorsIgnoredPrefixes(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "visible.jpg", "v")
	writeFile(t, root, "skip/hidden.jpg", "h")

	lib, err := st.CreateLibrary(context.Background(), "test", root, 0)
	require.NoError(t, err)
	require.NoError(t, st.AddIgnoredPrefix(context.Background(), lib.ID, "skip"))
	lib, err = st.GetLibrary(context.Background(), lib.ID)
	require.NoError(t, err)

	s := New(st, Options{Parallelism: 1})
	res, err := s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Added)
	assert.Nil(t, postByPath(t, st, lib.ID, "skip/hidden.jpg"))
}

func TestSyncLibrarySkipsExcludedUntilContentChanges(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	full := writeFile(t, root, "dupe.jpg", "excluded content")

	lib, err := st.CreateLibrary(context.Background(), "test", root, 0)
	require.NoError(t, err)

	s := New(st, Options{Parallelism: 1})
	_, err = s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	p := postByPath(t, st, lib.ID, "dupe.jpg")
	require.NotNil(t, p)

	// Exclude and remove the post, as the duplicate resolver would.
	require.NoError(t, st.InsertExclusion(context.Background(), lib.ID, "dupe.jpg", p.ContentHash, "duplicate"))
	require.NoError(t, st.DeletePostsByIDs(context.Background(), []int64{p.ID}))

	res, err := s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Added, "excluded file must not be re-ingested")

	// Different content at the same path lifts the exclusion.
	require.NoError(t, os.WriteFile(full, []byte("brand new content"), 0o644))
	res, err = s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Added)
}

func TestSyncLibraryCopiesInheritedTags(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "a.jpg", "same bytes")

	lib, err := st.CreateLibrary(context.Background(), "test", root, 0)
	require.NoError(t, err)

	s := New(st, Options{Parallelism: 1})
	_, err = s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	a := postByPath(t, st, lib.ID, "a.jpg")
	require.NotNil(t, a)

	ids, err := st.EnsureTags(context.Background(), []string{"favorite_cat"})
	require.NoError(t, err)
	require.NoError(t, st.ApplyPostTagChanges(context.Background(),
		[]store.PostTag{{PostID: a.ID, TagID: ids["favorite_cat"], Source: "manual"}}, nil))

	// A byte-identical copy appears at a new path.
	writeFile(t, root, "copies/a2.jpg", "same bytes")
	res, err := s.SyncLibrary(context.Background(), lib, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Added)

	b := postByPath(t, st, lib.ID, "copies/a2.jpg")
	require.NotNil(t, b)

	var n int
	err = st.DB().QueryRow(
		`SELECT COUNT(*) FROM post_tags WHERE post_id = ? AND source = 'manual'`, b.ID,
	).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "manual tag should be inherited from the same-hash peer")
}
