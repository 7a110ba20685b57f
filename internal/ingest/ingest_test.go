package ingest

import (
	"context"
	"fmt"
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
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database))
	return store.New(database)
}

func testPost(libID int64, relPath string) store.Post {
	return store.Post{
		LibraryID:        libID,
		RelativePath:     relPath,
		ContentHash:      fmt.Sprintf("hash-%s", relPath),
		SizeBytes:        42,
		ContentType:      "image/jpeg",
		ImportDate:       time.Now(),
		FileModifiedDate: time.Now(),
	}
}

func TestPipelineWritesAcrossBatches(t *testing.T) {
	st := newTestStore(t)
	lib, err := st.CreateLibrary(context.Background(), "main", t.TempDir(), 0)
	require.NoError(t, err)

	p := New(st)
	const n = 250 // spans multiple batches
	for i := 0; i < n; i++ {
		p.Enqueue(testPost(lib.ID, fmt.Sprintf("sub/file-%03d.jpg", i)))
	}
	p.Flush()

	assert.Len(t, p.InsertedIDs(), n)
	assert.Zero(t, p.FailedCount())

	count, err := st.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)
}

func TestPipelineDropsFailedBatch(t *testing.T) {
	st := newTestStore(t)
	lib, err := st.CreateLibrary(context.Background(), "main", t.TempDir(), 0)
	require.NoError(t, err)

	p := New(st)
	// Same relative path twice in one batch violates the unique index, so
	// the whole batch rolls back and is counted as failed.
	p.Enqueue(testPost(lib.ID, "dup.jpg"))
	p.Enqueue(testPost(lib.ID, "dup.jpg"))
	p.Flush()

	assert.Empty(t, p.InsertedIDs())
	assert.Equal(t, int64(2), p.FailedCount())

	count, err := st.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPipelineFlushIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	lib, err := st.CreateLibrary(context.Background(), "main", t.TempDir(), 0)
	require.NoError(t, err)

	p := New(st)
	p.Enqueue(testPost(lib.ID, "one.jpg"))
	p.Flush()
	p.Flush()

	assert.Len(t, p.InsertedIDs(), 1)
}
