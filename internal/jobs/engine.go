// Package jobs runs named background jobs: at most one execution per job
// key, persisted history, coalesced progress reporting, and cooperative
// cancellation.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiro-booru/shiro/internal/apperr"
	"github.com/shiro-booru/shiro/internal/metrics"
	"github.com/shiro-booru/shiro/internal/store"
)

// Mode selects how much work a job redoes.
type Mode int

const (
	// ModeMissing processes only rows whose derived data is absent.
	ModeMissing Mode = iota
	// ModeAll reprocesses everything.
	ModeAll
)

// ParseMode maps the query-string form to a Mode. Empty means Missing.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "missing":
		return ModeMissing, nil
	case "all":
		return ModeAll, nil
	default:
		return 0, apperr.Invalid("unknown job mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeAll {
		return "all"
	}
	return "missing"
}

// JobContext is handed to a running job.
type JobContext struct {
	Mode     Mode
	Reporter *Reporter
}

// Handler describes one registered job. Run returns a human-readable summary
// on success.
type Handler struct {
	Key             string
	Name            string
	Description     string
	SupportsAllMode bool
	DisplayOrder    int
	Run             func(ctx context.Context, jc *JobContext) (string, error)
}

// Descriptor is the static view of a Handler for API listings.
type Descriptor struct {
	Key             string `json:"key"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	SupportsAllMode bool   `json:"supports_all_mode"`
	DisplayOrder    int    `json:"display_order"`
}

// JobInfo is the live view of one running execution.
type JobInfo struct {
	ID          string     `json:"id"`
	ExecutionID int64      `json:"execution_id"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	State       JobState   `json:"state"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
}

type runningJob struct {
	info   JobInfo
	cancel context.CancelFunc
}

// Engine is the job registry and runner. One mutex guards both the registry
// and the running map; the at-most-one-per-key check happens under it.
type Engine struct {
	st *store.Store

	mu       sync.Mutex
	handlers map[string]Handler
	running  map[string]*runningJob // keyed by job key

	wg sync.WaitGroup
}

// NewEngine creates an empty engine.
func NewEngine(st *store.Store) *Engine {
	return &Engine{
		st:       st,
		handlers: make(map[string]Handler),
		running:  make(map[string]*runningJob),
	}
}

// Register adds a handler. Duplicate keys panic: registration is a
// programming error, not a runtime condition.
func (e *Engine) Register(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.handlers[h.Key]; ok {
		panic(fmt.Sprintf("jobs: duplicate handler key %q", h.Key))
	}
	e.handlers[h.Key] = h
}

// Descriptors lists registered jobs in display order.
func (e *Engine) Descriptors() []Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Descriptor, 0, len(e.handlers))
	for _, h := range e.handlers {
		out = append(out, Descriptor{
			Key:             h.Key,
			Name:            h.Name,
			Description:     h.Description,
			SupportsAllMode: h.SupportsAllMode,
			DisplayOrder:    h.DisplayOrder,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out
}

// Start launches the job for key, returning the persisted execution id.
// apperr.NotFound for an unknown key, apperr.Conflict when the key already
// has a running execution.
func (e *Engine) Start(ctx context.Context, key string, mode Mode) (int64, error) {
	e.mu.Lock()
	h, ok := e.handlers[key]
	if !ok {
		e.mu.Unlock()
		return 0, apperr.NotFound("unknown job %q", key)
	}
	if _, busy := e.running[key]; busy {
		e.mu.Unlock()
		return 0, apperr.Conflict("job %q is already running", key)
	}
	if mode == ModeAll && !h.SupportsAllMode {
		e.mu.Unlock()
		return 0, apperr.Invalid("job %q does not support mode all", key)
	}

	start := time.Now().UTC()
	execID, err := e.st.InsertJobExecution(ctx, key, start)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}

	// The job outlives the HTTP request that started it.
	jobCtx, cancel := context.WithCancel(context.Background())
	rj := &runningJob{
		info: JobInfo{
			ID:          uuid.NewString(),
			ExecutionID: execID,
			Key:         key,
			Name:        h.Name,
			Status:      store.JobRunning,
			StartTime:   start,
		},
		cancel: cancel,
	}
	e.running[key] = rj
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(jobCtx, h, rj, mode)

	slog.Info("job started", "job", key, "mode", mode.String(), "execution", execID)
	return execID, nil
}

// Cancel signals cancellation of an execution. Idempotent: cancelling an
// unknown or already-finished execution is a no-op.
func (e *Engine) Cancel(executionID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rj := range e.running {
		if rj.info.ExecutionID == executionID {
			rj.cancel()
			return
		}
	}
}

// Active returns a snapshot of all running executions.
func (e *Engine) Active() []JobInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]JobInfo, 0, len(e.running))
	for _, rj := range e.running {
		out = append(out, rj.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// History pages persisted executions, newest first.
func (e *Engine) History(ctx context.Context, page, pageSize int) ([]store.JobExecution, int, error) {
	return e.st.JobHistory(ctx, page, pageSize)
}

// Shutdown cancels every running job and waits for workers to drain.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, rj := range e.running {
		rj.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, h Handler, rj *runningJob, mode Mode) {
	defer e.wg.Done()
	defer rj.cancel()

	reporter := newReporter(func(s JobState) {
		e.mu.Lock()
		rj.info.State = s
		e.mu.Unlock()
	})

	summary, err := h.Run(ctx, &JobContext{Mode: mode, Reporter: reporter})
	reporter.Flush()

	status := store.JobCompleted
	errMsg := ""
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil):
		status = store.JobCancelled
	case err != nil:
		status = store.JobFailed
		errMsg = err.Error()
	}

	// Persist the terminal state with a fresh context: the job's own context
	// may already be cancelled.
	if ferr := e.st.FinishJobExecution(context.Background(), rj.info.ExecutionID, status, errMsg); ferr != nil {
		slog.Error("persist job result", "job", h.Key, "error", ferr)
	}

	duration := time.Since(rj.info.StartTime)
	metrics.JobRuns.WithLabelValues(h.Key, status).Inc()
	metrics.JobDuration.WithLabelValues(h.Key).Observe(duration.Seconds())

	switch status {
	case store.JobCompleted:
		slog.Info("job finished", "job", h.Key, "duration", duration.Round(time.Millisecond), "summary", summary)
	case store.JobCancelled:
		slog.Warn("job cancelled", "job", h.Key, "duration", duration.Round(time.Millisecond))
	default:
		slog.Error("job failed", "job", h.Key, "duration", duration.Round(time.Millisecond), "error", err)
	}

	e.mu.Lock()
	delete(e.running, h.Key)
	e.mu.Unlock()
}
