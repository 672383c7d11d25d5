package testutil

import (
	"sync"
	"testing"
	"time"
)

// Recorder collects values delivered from other goroutines, such as save
// outcomes handed to completion callbacks.
//
// Thread-safety: all methods are safe for concurrent use.
type Recorder[T any] struct {
	mu     sync.Mutex
	values []T
	notify chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{notify: make(chan struct{}, 1)}
}

// Record appends v. Use it as a callback: recorder.Record.
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Values returns a copy of everything recorded so far, in arrival order.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Wait blocks until at least n values have been recorded and returns them.
// It fails the test after timeout.
func (r *Recorder[T]) Wait(t testing.TB, n int, timeout time.Duration) []T {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if vals := r.Values(); len(vals) >= n {
			return vals
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			t.Fatalf("recorder: got %d values after %s, want %d", r.Len(), timeout, n)
			return nil
		}
	}
}
