// Package fetch filters, orders and pages objects for context reads.
package fetch

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/graphstore/internal/storage"
	"github.com/roach88/graphstore/internal/value"
)

// Sort orders results by one property. Missing properties sort as Null.
type Sort struct {
	Key        string
	Descending bool
}

// ParseSort parses "key" or "key:desc" / "key:asc".
func ParseSort(s string) (Sort, error) {
	key, dir, found := strings.Cut(s, ":")
	if key == "" {
		return Sort{}, fmt.Errorf("sort %q: key is empty", s)
	}
	if !found {
		return Sort{Key: key}, nil
	}
	switch strings.ToLower(dir) {
	case "asc":
		return Sort{Key: key}, nil
	case "desc":
		return Sort{Key: key, Descending: true}, nil
	}
	return Sort{}, fmt.Errorf("sort %q: direction must be asc or desc", s)
}

// Request describes a fetch against one entity.
//
// Limit 0 means no limit. IncludePending makes a context return its own
// unsaved inserts and edits; otherwise only committed snapshots are read.
type Request struct {
	Entity         string
	Where          Predicate
	Sort           []Sort
	Offset         int
	Limit          int
	IncludePending bool
}

// Validate checks the request bounds.
func (r Request) Validate() error {
	if r.Entity == "" {
		return fmt.Errorf("fetch: entity is required")
	}
	if r.Offset < 0 {
		return fmt.Errorf("fetch: offset %d is negative", r.Offset)
	}
	if r.Limit < 0 {
		return fmt.Errorf("fetch: limit %d is negative", r.Limit)
	}
	return nil
}

// Run filters records with Where, stable-sorts them by Sort and applies
// Offset and Limit. Records keep their input order where Sort does not
// decide. The input slice is not modified.
func Run(records []storage.Record, req Request) ([]storage.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	out := make([]storage.Record, 0, len(records))
	for _, rec := range records {
		if rec.ID.Entity != req.Entity {
			continue
		}
		if req.Where != nil {
			ok, err := req.Where.Match(rec.Props)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %s: %w", req.Entity, rec.ID.Key, err)
			}
			if !ok {
				continue
			}
		}
		out = append(out, rec)
	}

	if len(req.Sort) > 0 {
		slices.SortStableFunc(out, func(a, b storage.Record) int {
			for _, s := range req.Sort {
				c := value.Compare(a.Props[s.Key], b.Props[s.Key])
				if s.Descending {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	if req.Offset >= len(out) {
		return []storage.Record{}, nil
	}
	out = out[req.Offset:]
	if req.Limit > 0 && req.Limit < len(out) {
		out = out[:req.Limit]
	}
	return out, nil
}
