package indexer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/metrics"
	"github.com/hyperjump/callmind/internal/models"
)

// RecordLoader fetches the current version of a call record.
type RecordLoader func(ctx context.Context, callID string) (*models.CallRecord, error)

// Queue feeds call ids to a bounded pool of index workers. An id is never indexed by two
// workers at once: enqueuing a waiting id is a no-op, and enqueuing a running id schedules
// exactly one more run after the current one finishes.
type Queue struct {
	indexer *Indexer
	load    RecordLoader
	workers int
	jobs    chan string
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending map[string]bool // id -> running
	again   map[string]bool
	closed  bool
	wg      sync.WaitGroup
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets a logger for dropped and failed jobs.
func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// WithQueueMetrics reports queue depth on m.
func WithQueueMetrics(m *metrics.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// NewQueue creates a queue with the given worker count and buffer size.
func NewQueue(ix *Indexer, load RecordLoader, workers, size int, opts ...QueueOption) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	q := &Queue{
		indexer: ix,
		load:    load,
		workers: workers,
		jobs:    make(chan string, size),
		pending: make(map[string]bool),
		again:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers. Jobs run detached from ctx's cancellation so an accepted
// job always completes; use Stop to drain.
func (q *Queue) Start(ctx context.Context) {
	jobCtx := context.WithoutCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for id := range q.jobs {
				q.run(jobCtx, id)
			}
		}()
	}
}

// Enqueue schedules callID for indexing. It never blocks and returns false when the id was
// dropped because the queue is full or stopped; the sweeper picks such records up later.
func (q *Queue) Enqueue(callID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if running, ok := q.pending[callID]; ok {
		if running {
			q.again[callID] = true
		}
		return true
	}
	select {
	case q.jobs <- callID:
		q.pending[callID] = false
		q.metrics.SetQueueDepth(len(q.jobs))
		return true
	default:
		if q.logger != nil {
			q.logger.Warn("index queue full, dropping", zap.String("call_id", callID))
		}
		return false
	}
}

// Len returns the number of ids waiting or running.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop rejects new ids and waits for queued and running jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context, callID string) {
	for {
		q.mu.Lock()
		q.pending[callID] = true
		q.metrics.SetQueueDepth(len(q.jobs))
		q.mu.Unlock()

		q.indexOne(ctx, callID)

		q.mu.Lock()
		if !q.again[callID] {
			delete(q.pending, callID)
			q.mu.Unlock()
			return
		}
		delete(q.again, callID)
		q.mu.Unlock()
	}
}

func (q *Queue) indexOne(ctx context.Context, callID string) {
	rec, err := q.load(ctx, callID)
	if err != nil {
		if q.logger != nil {
			q.logger.Error("failed to load call for indexing", zap.String("call_id", callID), zap.Error(err))
		}
		return
	}
	if rec.TranscriptText == "" || (rec.Status != models.StatusTranscribed && rec.Status != models.StatusIndexed) {
		return
	}
	if _, err := q.indexer.Index(ctx, rec); err != nil && q.logger != nil {
		q.logger.Debug("index job failed", zap.String("call_id", callID), zap.Error(err))
	}
}
