// Package ingest buffers post inserts from concurrent scanners and writes
// them to the store in batched transactions.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shiro-booru/shiro/internal/store"
)

const (
	// batchSize is the maximum number of posts written per transaction.
	batchSize = 100
	// flushInterval bounds how long an enqueued post can sit unwritten.
	flushInterval = 500 * time.Millisecond
	// bufferSize bounds the channel; a full buffer applies backpressure to
	// Enqueue callers.
	bufferSize = 1000
)

// Pipeline accepts posts from many producers and persists them in batches.
// A batch that fails to commit is logged and dropped; the surrounding sync
// continues.
type Pipeline struct {
	st *store.Store

	in     chan store.Post
	done   chan struct{}
	closed sync.Once

	mu       sync.Mutex
	inserted []int64 // ids assigned to posts written so far
	failed   int64
}

// New starts a Pipeline with its background writer.
func New(st *store.Store) *Pipeline {
	p := &Pipeline{
		st:   st,
		in:   make(chan store.Post, bufferSize),
		done: make(chan struct{}),
	}
	go p.writer()
	return p
}

// Enqueue hands a post to the pipeline. Blocks when the buffer is full.
func (p *Pipeline) Enqueue(post store.Post) {
	p.in <- post
}

// Flush closes the intake and waits until every enqueued post is durably
// written (or its batch dropped). The pipeline cannot be reused afterwards.
func (p *Pipeline) Flush() {
	p.closed.Do(func() { close(p.in) })
	<-p.done
}

// InsertedIDs returns the ids of all posts written so far.
func (p *Pipeline) InsertedIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int64, len(p.inserted))
	copy(ids, p.inserted)
	return ids
}

// FailedCount returns how many posts were dropped with their batch.
func (p *Pipeline) FailedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// writer drains the intake channel, committing a batch when it reaches
// batchSize or when flushInterval elapses with pending posts.
func (p *Pipeline) writer() {
	defer close(p.done)

	batch := make([]store.Post, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: an in-flight batch commits even when the scan's
		// context is already cancelled.
		if err := p.st.InsertPostsBatch(context.Background(), batch); err != nil {
			slog.Warn("ingest: batch insert failed, dropping batch",
				"posts", len(batch), "error", err)
			p.mu.Lock()
			p.failed += int64(len(batch))
			p.mu.Unlock()
		} else {
			p.mu.Lock()
			for i := range batch {
				p.inserted = append(p.inserted, batch[i].ID)
			}
			p.mu.Unlock()
		}
		batch = batch[:0]
	}

	for {
		select {
		case post, ok := <-p.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, post)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
