// Package memory provides an in-memory storage.Backend.
//
// It has the same semantics as the SQLite store but nothing survives Close.
// Coordinator tests and ephemeral stores use it.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/graphstore/internal/storage"
	"github.com/roach88/graphstore/internal/value"
)

// Store is an in-memory backend.
type Store struct {
	mu      sync.RWMutex
	objects map[storage.ObjectID]storage.Record
	seq     int64
	commits []storage.Commit
	closed  bool
}

var _ storage.Backend = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{objects: make(map[storage.ObjectID]storage.Record)}
}

// Apply implements storage.Backend.
func (s *Store) Apply(_ context.Context, cs storage.ChangeSet) (storage.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.Commit{}, storage.ErrClosed
	}
	if err := cs.Validate(); err != nil {
		return storage.Commit{}, fmt.Errorf("apply: %w", err)
	}
	digest, err := cs.Digest()
	if err != nil {
		return storage.Commit{}, fmt.Errorf("apply: %w", err)
	}

	// Check everything before touching state so a failure leaves no trace.
	for _, rec := range cs.Inserted {
		if _, exists := s.objects[rec.ID]; exists {
			return storage.Commit{}, fmt.Errorf("apply: insert %s: %w", rec.ID, storage.ErrDuplicateObject)
		}
	}
	for _, rec := range cs.Updated {
		if _, exists := s.objects[rec.ID]; !exists {
			return storage.Commit{}, fmt.Errorf("apply: update %s: %w", rec.ID, storage.ErrObjectNotFound)
		}
	}

	seq := s.seq + 1
	out := storage.ChangeSet{}

	for _, rec := range cs.Inserted {
		stored := storage.Record{ID: rec.ID, Props: storage.StripNulls(rec.Props), Version: seq}
		s.objects[rec.ID] = stored
		out.Inserted = append(out.Inserted, stored.Clone())
	}
	for _, rec := range cs.Updated {
		merged := storage.MergeProps(s.objects[rec.ID].Props, rec)
		s.objects[rec.ID] = storage.Record{ID: rec.ID, Props: merged, Version: seq}
		out.Updated = append(out.Updated, storage.Record{
			ID:      rec.ID,
			Props:   merged.Clone(),
			Changed: append([]string(nil), rec.Changed...),
			Version: seq,
		})
	}
	for _, id := range cs.Deleted {
		delete(s.objects, id)
		out.Deleted = append(out.Deleted, id)
	}

	s.seq = seq
	commit := storage.Commit{Seq: seq, Digest: digest, ChangeSet: out}
	s.commits = append(s.commits, storage.Commit{Seq: seq, Digest: digest})
	return commit, nil
}

// Get implements storage.Backend.
func (s *Store) Get(_ context.Context, id storage.ObjectID) (storage.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.Record{}, false, storage.ErrClosed
	}
	rec, ok := s.objects[id]
	if !ok {
		return storage.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

// Scan implements storage.Backend.
func (s *Store) Scan(_ context.Context, entity string) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	out := []storage.Record{}
	for id, rec := range s.objects {
		if id.Entity == entity {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b storage.Record) int {
		return cmp.Or(cmp.Compare(a.Version, b.Version), cmp.Compare(a.ID.Key, b.ID.Key))
	})
	return out, nil
}

// Commits returns the commit log without change sets, oldest first.
func (s *Store) Commits() []storage.Commit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.commits)
}

// Props returns the stored properties of id, or nil. Test helper.
func (s *Store) Props(id storage.ObjectID) value.Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.objects[id]
	if !ok {
		return nil
	}
	return rec.Props.Clone()
}

// Close implements storage.Backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.objects = nil
	return nil
}
