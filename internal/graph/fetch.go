package graph

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/graphstore/internal/fetch"
	"github.com/roach88/graphstore/internal/storage"
)

// Fetch returns the objects of req.Entity matching req.
//
// Stored objects not yet cached are faulted into the cache; cached objects
// are served from their snapshots. Results are in store order (version,
// then key) followed by pending inserts in insertion order, before req.Sort
// is applied.
func (c *Context) Fetch(ctx context.Context, req fetch.Request) ([]storage.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.backend.Scan(ctx, req.Entity)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.Entity, err)
	}
	for _, rec := range recs {
		if _, ok := c.objects[rec.ID]; !ok {
			c.objects[rec.ID] = &object{committed: rec.Props, version: rec.Version, stored: true}
		}
	}

	type entry struct {
		id storage.ObjectID
		o  *object
	}
	var entries []entry
	for id, o := range c.objects {
		if id.Entity == req.Entity {
			entries = append(entries, entry{id, o})
		}
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if a.o.stored != b.o.stored {
			if a.o.stored {
				return -1
			}
			return 1
		}
		if !a.o.stored {
			return cmp.Compare(a.o.seq, b.o.seq)
		}
		return cmp.Or(cmp.Compare(a.o.version, b.o.version), cmp.Compare(a.id.Key, b.id.Key))
	})

	rows := make([]storage.Record, 0, len(entries))
	for _, e := range entries {
		switch {
		case req.IncludePending:
			if e.o.deleted {
				continue
			}
			rows = append(rows, storage.Record{ID: e.id, Props: e.o.view(), Version: e.o.version})
		case e.o.stored:
			rows = append(rows, storage.Record{ID: e.id, Props: e.o.committed.Clone(), Version: e.o.version})
		}
	}
	return fetch.Run(rows, req)
}

// FetchOne returns the single object matching req. It returns false when
// nothing matches and a MULTIPLE_RESULTS error when more than one does.
// req.Offset and req.Limit are ignored.
func (c *Context) FetchOne(ctx context.Context, req fetch.Request) (storage.Record, bool, error) {
	req.Offset, req.Limit = 0, 0
	rows, err := c.Fetch(ctx, req)
	if err != nil {
		return storage.Record{}, false, err
	}
	switch len(rows) {
	case 0:
		return storage.Record{}, false, nil
	case 1:
		return rows[0], true, nil
	}
	return storage.Record{}, false, &ContextError{
		Code:    ErrCodeMultipleResults,
		Message: fmt.Sprintf("%d %s objects match, want at most one", len(rows), req.Entity),
		Context: c.id,
	}
}

// FetchPage returns one page of req's results.
func (c *Context) FetchPage(ctx context.Context, req fetch.Request, offset, limit int) ([]storage.Record, error) {
	req.Offset, req.Limit = offset, limit
	return c.Fetch(ctx, req)
}
