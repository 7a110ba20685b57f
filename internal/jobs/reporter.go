package jobs

import (
	"sync"
	"time"
)

// ProgressClear is the sentinel that clears a progress field, switching the
// job back to an indeterminate display.
const ProgressClear int64 = -1

// JobState is one progress snapshot of a running job. Zero-valued progress
// fields leave the previous value untouched; ProgressClear resets a field.
type JobState struct {
	Activity string `json:"activity,omitempty"`
	Current  int64  `json:"current,omitempty"`
	Total    int64  `json:"total,omitempty"`
	Final    string `json:"final,omitempty"`
}

// reporterInterval caps state publication at 5 Hz.
const reporterInterval = 200 * time.Millisecond

// Reporter coalesces JobState updates: at most one publication per
// reporterInterval, last write wins. The sink receives the merged state.
type Reporter struct {
	sink func(JobState)

	mu      sync.Mutex
	state   JobState // merged view published so far (or pending)
	last    time.Time
	pending bool
	timer   *time.Timer
}

func newReporter(sink func(JobState)) *Reporter {
	return &Reporter{sink: sink}
}

// Update merges s into the current state and publishes it, throttled.
func (r *Reporter) Update(s JobState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.merge(s)

	now := time.Now()
	if now.Sub(r.last) >= reporterInterval {
		r.publishLocked(now)
		return
	}
	r.pending = true
	if r.timer == nil {
		delay := reporterInterval - now.Sub(r.last)
		r.timer = time.AfterFunc(delay, r.flushPending)
	}
}

// Flush publishes any pending state immediately. Called when a job finishes
// so its final snapshot is never lost to throttling.
func (r *Reporter) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.pending {
		r.publishLocked(time.Now())
	}
}

func (r *Reporter) flushPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer = nil
	if r.pending {
		r.publishLocked(time.Now())
	}
}

func (r *Reporter) merge(s JobState) {
	if s.Activity != "" {
		r.state.Activity = s.Activity
	}
	switch {
	case s.Current == ProgressClear:
		r.state.Current = 0
	case s.Current != 0:
		r.state.Current = s.Current
	}
	switch {
	case s.Total == ProgressClear:
		r.state.Total = 0
	case s.Total != 0:
		r.state.Total = s.Total
	}
	if s.Final != "" {
		r.state.Final = s.Final
	}
}

func (r *Reporter) publishLocked(now time.Time) {
	r.last = now
	r.pending = false
	r.sink(r.state)
}
