package retry

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("retry queue closed")

// Operation is a unit of queued work.
type Operation func(ctx context.Context) error

// Metadata identifies a queued operation in progress reports.
type Metadata struct {
	ID   string
	Kind string
}

type Event string

const (
	EventRetry   Event = "retry"
	EventSuccess Event = "success"
	EventFailed  Event = "failed"
)

// Progress is reported for every retry and every settled operation.
// Remaining counts the operations still waiting behind the current one.
type Progress struct {
	Event     Event
	Meta      Metadata
	Attempt   int
	Delay     time.Duration
	Err       error
	Remaining int
}

type QueueConfig struct {
	Retry      Config
	OnProgress func(Progress)
	// Context is handed to every operation. Cancelling it stops the running
	// one at its next attempt or backoff. Nil means context.Background.
	Context context.Context
}

type Status struct {
	Pending    int
	Processing bool
}

type queued struct {
	op   Operation
	meta Metadata
}

// Queue runs operations one at a time in insertion order. Each goes through
// Do; a slow operation holds up everything behind it.
type Queue struct {
	cfg QueueConfig

	mu      sync.Mutex
	items   []queued
	running bool
	closed  bool
	idle    chan struct{}
}

func NewQueue(cfg QueueConfig) *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{cfg: cfg, idle: idle}
}

// Add appends op and starts the worker when the queue is idle.
func (q *Queue) Add(op Operation, meta Metadata) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, queued{op: op, meta: meta})
	queueDepth.Set(float64(q.depthLocked()))

	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		go q.process(q.idle)
	}
	return nil
}

// Clear drops every operation that has not started. The running one finishes.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	queueDepth.Set(float64(q.depthLocked()))
	q.mu.Unlock()
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{Pending: q.depthLocked(), Processing: q.running}
}

// Wait blocks until the queue has drained or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further Adds and drops waiting operations.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	queueDepth.Set(float64(q.depthLocked()))
	q.mu.Unlock()
}

func (q *Queue) depthLocked() int {
	n := len(q.items)
	if q.running {
		n++
	}
	return n
}

func (q *Queue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) process(idle chan struct{}) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			queueDepth.Set(0)
			close(idle)
			q.mu.Unlock()
			return
		}
		head := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		err := q.runOne(head)

		p := Progress{Event: EventSuccess, Meta: head.meta, Err: err, Remaining: q.remaining()}
		if err != nil {
			p.Event = EventFailed
			queueOpsTotal.WithLabelValues("failed").Inc()
		} else {
			queueOpsTotal.WithLabelValues("success").Inc()
		}
		q.emit(p)

		q.mu.Lock()
		queueDepth.Set(float64(len(q.items)))
		q.mu.Unlock()
	}
}

func (q *Queue) runOne(item queued) error {
	cfg := q.cfg.Retry
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(info Info) {
		attemptsTotal.Inc()
		if onRetry != nil {
			onRetry(info)
		}
		q.emit(Progress{
			Event:     EventRetry,
			Meta:      item.meta,
			Attempt:   info.Attempt,
			Delay:     info.Delay,
			Err:       info.Err,
			Remaining: q.remaining(),
		})
	}
	ctx := q.cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return Run(ctx, cfg, item.op)
}

func (q *Queue) emit(p Progress) {
	if q.cfg.OnProgress != nil {
		q.cfg.OnProgress(p)
	}
}
