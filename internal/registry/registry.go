// Package registry holds pending save completions keyed by context.
//
// A completion is registered just before a save is written and taken when
// the commit has been merged into the main context. Lookup and removal are
// one atomic step, so every completion is delivered at most once.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// PendingPolicy decides what happens when a key already has a pending
// completion.
type PendingPolicy int

const (
	// RejectIfPending refuses the new registration with ErrPending.
	RejectIfPending PendingPolicy = iota

	// ReplacePending stores the new completion and hands the previous one
	// back to the caller, who must fail it.
	ReplacePending
)

func (p PendingPolicy) String() string {
	switch p {
	case RejectIfPending:
		return "reject"
	case ReplacePending:
		return "replace"
	}
	return fmt.Sprintf("PendingPolicy(%d)", int(p))
}

// ParsePendingPolicy parses "reject" or "replace".
func ParsePendingPolicy(s string) (PendingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return RejectIfPending, nil
	case "replace":
		return ReplacePending, nil
	}
	return 0, fmt.Errorf("unknown pending policy %q (want reject or replace)", s)
}

// ErrPending is returned by Register under RejectIfPending when the key
// already has a completion.
var ErrPending = errors.New("completion already pending")

// Registry maps keys to pending completions. All methods are safe for
// concurrent use; one mutex serializes them. Entries are never iterated.
type Registry[K comparable, C any] struct {
	policy PendingPolicy

	mu      sync.Mutex
	pending map[K]C
}

// New creates an empty registry.
func New[K comparable, C any](policy PendingPolicy) *Registry[K, C] {
	return &Registry[K, C]{
		policy:  policy,
		pending: make(map[K]C),
	}
}

// Policy returns the registry's pending policy.
func (r *Registry[K, C]) Policy() PendingPolicy {
	return r.policy
}

// Register stores c under k.
//
// Under RejectIfPending an existing entry makes Register return ErrPending
// and c is not stored. Under ReplacePending c replaces the entry and the
// previous completion is returned with replaced set.
func (r *Registry[K, C]) Register(k K, c C) (previous C, replaced bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.pending[k]
	if exists && r.policy == RejectIfPending {
		var zero C
		return zero, false, ErrPending
	}
	r.pending[k] = c
	return prev, exists, nil
}

// Take removes and returns the completion for k.
func (r *Registry[K, C]) Take(k K) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.pending[k]
	if ok {
		delete(r.pending, k)
	}
	return c, ok
}

// TakeIf removes and returns the completion for k only if match accepts
// it. The check and removal are one atomic step.
func (r *Registry[K, C]) TakeIf(k K, match func(C) bool) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.pending[k]
	if !ok || !match(c) {
		var zero C
		return zero, false
	}
	delete(r.pending, k)
	return c, true
}

// Forget drops the completion for k without returning it.
func (r *Registry[K, C]) Forget(k K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, k)
}

// Has reports whether k has a pending completion.
func (r *Registry[K, C]) Has(k K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[k]
	return ok
}

// Len returns the number of pending completions.
func (r *Registry[K, C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
