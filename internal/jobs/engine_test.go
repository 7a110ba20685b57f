package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiro-booru/shiro/internal/apperr"
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

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.Active()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("engine did not go idle")
}

func TestEngineRejectsUnknownKey(t *testing.T) {
	e := NewEngine(newTestStore(t))
	_, err := e.Start(context.Background(), "no-such-job", ModeMissing)
	assert.True(t, apperr.IsNotFound(err))
}

func TestEngineConflictOnSameKey(t *testing.T) {
	e := NewEngine(newTestStore(t))
	release := make(chan struct{})
	e.Register(Handler{
		Key:  "blocker",
		Name: "Blocker",
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			<-release
			return "done", nil
		},
	})

	_, err := e.Start(context.Background(), "blocker", ModeMissing)
	require.NoError(t, err)

	_, err = e.Start(context.Background(), "blocker", ModeMissing)
	assert.True(t, apperr.IsConflict(err), "second start of the same key must conflict")

	close(release)
	waitIdle(t, e)

	// After completion the key is startable again.
	release = make(chan struct{})
	close(release)
	_, err = e.Start(context.Background(), "blocker", ModeMissing)
	require.NoError(t, err)
	waitIdle(t, e)
}

func TestEngineCancelIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	e.Register(Handler{
		Key:  "cancellable",
		Name: "Cancellable",
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})

	execID, err := e.Start(context.Background(), "cancellable", ModeMissing)
	require.NoError(t, err)

	e.Cancel(execID)
	e.Cancel(execID) // second cancel is a no-op
	waitIdle(t, e)
	e.Cancel(execID) // cancelling a finished execution is a no-op

	items, total, err := e.History(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, store.JobCancelled, items[0].Status)
	assert.Empty(t, items[0].ErrorMessage)
	assert.NotNil(t, items[0].EndTime)
}

func TestEngineRecordsFailure(t *testing.T) {
	e := NewEngine(newTestStore(t))
	e.Register(Handler{
		Key:  "broken",
		Name: "Broken",
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return "", assert.AnError
		},
	})

	_, err := e.Start(context.Background(), "broken", ModeMissing)
	require.NoError(t, err)
	waitIdle(t, e)

	items, _, err := e.History(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, store.JobFailed, items[0].Status)
	assert.Equal(t, assert.AnError.Error(), items[0].ErrorMessage)
}

func TestEngineRejectsAllModeWhenUnsupported(t *testing.T) {
	e := NewEngine(newTestStore(t))
	e.Register(Handler{
		Key:  "missing-only",
		Name: "Missing Only",
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return "", nil
		},
	})
	_, err := e.Start(context.Background(), "missing-only", ModeAll)
	assert.True(t, apperr.IsInvalid(err))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeMissing, m)

	m, err = ParseMode("all")
	require.NoError(t, err)
	assert.Equal(t, ModeAll, m)

	_, err = ParseMode("sideways")
	assert.True(t, apperr.IsInvalid(err))
}

func TestReporterCoalescesAndMerges(t *testing.T) {
	var got []JobState
	r := newReporter(func(s JobState) { got = append(got, s) })

	r.Update(JobState{Activity: "phase one"})
	for i := int64(1); i <= 100; i++ {
		r.Update(JobState{Current: i, Total: 100})
	}
	r.Flush()

	require.NotEmpty(t, got)
	assert.Less(t, len(got), 10, "updates must be throttled")

	last := got[len(got)-1]
	assert.Equal(t, "phase one", last.Activity, "activity persists across merges")
	assert.EqualValues(t, 100, last.Current)
	assert.EqualValues(t, 100, last.Total)
}

func TestReporterClearSentinel(t *testing.T) {
	var last JobState
	r := newReporter(func(s JobState) { last = s })

	r.Update(JobState{Activity: "determinate", Current: 5, Total: 10})
	time.Sleep(reporterInterval + 50*time.Millisecond)
	r.Update(JobState{Activity: "indeterminate", Current: ProgressClear, Total: ProgressClear})
	r.Flush()

	assert.Equal(t, "indeterminate", last.Activity)
	assert.Zero(t, last.Current)
	assert.Zero(t, last.Total)
}
