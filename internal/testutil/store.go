package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/roach88/graphstore/internal/storage"
)

// TempConfig returns a store configuration in a fresh temporary directory.
func TempConfig(t testing.TB, name string) storage.Config {
	t.Helper()
	return storage.Config{Name: name, Directory: t.TempDir()}
}

// ErrInjected is returned by FailingBackend when a failure is armed.
var ErrInjected = errors.New("injected write failure")

// FailingBackend wraps a backend and fails Apply on demand.
//
// Thread-safety: safe for concurrent use if the wrapped backend is.
type FailingBackend struct {
	storage.Backend

	fail    atomic.Bool
	applied atomic.Int64

	mu    sync.Mutex
	gate  chan struct{}
	after *afterCommit
}

type afterCommit struct {
	committed chan struct{}
	release   chan struct{}
}

// NewFailingBackend wraps b.
func NewFailingBackend(b storage.Backend) *FailingBackend {
	return &FailingBackend{Backend: b}
}

// FailApplies makes every following Apply fail with ErrInjected until
// called with false.
func (f *FailingBackend) FailApplies(fail bool) {
	f.fail.Store(fail)
}

// Hold makes Apply block until the returned release function is called.
func (f *FailingBackend) Hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.gate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

// HoldAfterCommit makes the next successful Apply return only after
// release is called. committed is closed once that Apply is durable in the
// wrapped backend. Later Applies are not held.
func (f *FailingBackend) HoldAfterCommit() (committed <-chan struct{}, release func()) {
	h := &afterCommit{committed: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.after = h
	f.mu.Unlock()

	var once sync.Once
	return h.committed, func() { once.Do(func() { close(h.release) }) }
}

// Applied returns the number of Apply calls that reached the wrapped backend.
func (f *FailingBackend) Applied() int64 {
	return f.applied.Load()
}

// Apply implements storage.Backend.
func (f *FailingBackend) Apply(ctx context.Context, cs storage.ChangeSet) (storage.Commit, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.fail.Load() {
		return storage.Commit{}, ErrInjected
	}
	f.applied.Add(1)
	commit, err := f.Backend.Apply(ctx, cs)
	if err != nil {
		return commit, err
	}

	f.mu.Lock()
	h := f.after
	f.after = nil
	f.mu.Unlock()
	if h != nil {
		close(h.committed)
		<-h.release
	}
	return commit, nil
}
