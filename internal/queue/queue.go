// Package queue provides serial task queues.
//
// Every context owns one queue and all work on the context runs there, one
// task at a time in submission order. Contexts are cheap and numerous, so a
// queue only holds a worker goroutine while it has work.
package queue

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/roach88/graphstore/internal/logging"
)

// Queue is a FIFO of tasks executed one at a time.
//
// Thread-safety: Perform may be called from any goroutine, including from a
// task running on the same queue. PerformAndWait must not be called from a
// task on the same queue; it would wait for itself.
type Queue struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	idle    *sync.Cond // broadcast when the worker exits
	tasks   []func()
	running bool
	closed  bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used to report panicking tasks.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// New creates an empty queue. name appears in log records.
func New(name string, opts ...Option) *Queue {
	q := &Queue{name: name}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = logging.Default(q.logger).With("component", "queue", "queue", name)
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Perform enqueues fn and returns immediately.
// Returns false if the queue is closed; fn is then never run.
func (q *Queue) Perform(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, fn)
	if !q.running {
		q.running = true
		go q.drain()
	}
	return true
}

// PerformAndWait enqueues fn and blocks until it has run.
// Returns false if the queue is closed.
func (q *Queue) PerformAndWait(fn func()) bool {
	done := make(chan struct{})
	if !q.Perform(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting tasks, lets queued tasks finish and waits for the
// worker to exit. Safe to call more than once. Must not be called from a
// task on the same queue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	for q.running {
		q.idle.Wait()
	}
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) drain() {
	for {
		fn, ok := q.next()
		if !ok {
			return
		}
		q.run(fn)
	}
}

// next pops the front task, or marks the worker stopped when empty.
func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		q.running = false
		q.idle.Broadcast()
		return nil, false
	}

	fn := q.tasks[0]
	q.tasks[0] = nil // release the closure
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return fn, true
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
