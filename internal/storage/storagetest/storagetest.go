// Package storagetest provides a conformance test suite for storage.Backend
// implementations.
package storagetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/graphstore/internal/storage"
	"github.com/roach88/graphstore/internal/value"
)

// Run exercises a Backend. newBackend is called once per subtest and must
// return an empty backend; Run closes it.
func Run(t *testing.T, newBackend func(t *testing.T) storage.Backend) {
	t.Helper()

	t.Run("InsertGet", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()

		id := storage.ObjectID{Entity: "Note", Key: "n1"}
		commit, err := b.Apply(ctx, storage.ChangeSet{
			Inserted: []storage.Record{{ID: id, Props: value.Map{"title": value.String("a"), "gone": value.Null{}}}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), commit.Seq)
		assert.NotEmpty(t, commit.Digest)
		require.Len(t, commit.ChangeSet.Inserted, 1)
		assert.Equal(t, int64(1), commit.ChangeSet.Inserted[0].Version)

		rec, ok, err := b.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, rec.ID)
		assert.Equal(t, value.Map{"title": value.String("a")}, rec.Props)
		assert.Equal(t, int64(1), rec.Version)

		_, ok, err = b.Get(ctx, storage.ObjectID{Entity: "Note", Key: "missing"})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpdateChangedKeysOnly", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()

		id := storage.ObjectID{Entity: "Note", Key: "n1"}
		mustApply(t, b, storage.ChangeSet{Inserted: []storage.Record{{
			ID:    id,
			Props: value.Map{"title": value.String("a"), "count": value.Int(1), "tag": value.String("x")},
		}}})

		commit, err := b.Apply(ctx, storage.ChangeSet{Updated: []storage.Record{{
			ID:      id,
			Props:   value.Map{"title": value.String("b"), "count": value.Int(99), "tag": value.Null{}},
			Changed: []string{"title", "tag"},
		}}})
		require.NoError(t, err)
		require.Len(t, commit.ChangeSet.Updated, 1)
		assert.Equal(t, value.Map{"title": value.String("b"), "count": value.Int(1)}, commit.ChangeSet.Updated[0].Props)
		assert.Equal(t, []string{"title", "tag"}, commit.ChangeSet.Updated[0].Changed)

		rec, ok, err := b.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, value.Map{"title": value.String("b"), "count": value.Int(1)}, rec.Props)
		assert.Equal(t, int64(2), rec.Version)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()

		id := storage.ObjectID{Entity: "Note", Key: "n1"}
		mustApply(t, b, storage.ChangeSet{Inserted: []storage.Record{{ID: id, Props: value.Map{}}}})
		mustApply(t, b, storage.ChangeSet{Deleted: []storage.ObjectID{id}})
		mustApply(t, b, storage.ChangeSet{Deleted: []storage.ObjectID{id}})

		_, ok, err := b.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DuplicateInsertFails", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()

		id := storage.ObjectID{Entity: "Note", Key: "n1"}
		mustApply(t, b, storage.ChangeSet{Inserted: []storage.Record{{ID: id, Props: value.Map{"v": value.Int(1)}}}})

		_, err := b.Apply(ctx, storage.ChangeSet{Inserted: []storage.Record{{ID: id, Props: value.Map{"v": value.Int(2)}}}})
		require.ErrorIs(t, err, storage.ErrDuplicateObject)

		rec, _, err := b.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, value.Map{"v": value.Int(1)}, rec.Props)
	})

	t.Run("UpdateMissingFails", func(t *testing.T) {
		b := open(t, newBackend)

		_, err := b.Apply(context.Background(), storage.ChangeSet{Updated: []storage.Record{{
			ID:      storage.ObjectID{Entity: "Note", Key: "nope"},
			Props:   value.Map{"v": value.Int(1)},
			Changed: []string{"v"},
		}}})
		require.ErrorIs(t, err, storage.ErrObjectNotFound)
	})

	t.Run("FailedApplyIsAtomic", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()

		existing := storage.ObjectID{Entity: "Note", Key: "n1"}
		mustApply(t, b, storage.ChangeSet{Inserted: []storage.Record{{ID: existing, Props: value.Map{}}}})

		fresh := storage.ObjectID{Entity: "Note", Key: "n2"}
		_, err := b.Apply(ctx, storage.ChangeSet{
			Inserted: []storage.Record{{ID: fresh, Props: value.Map{}}},
			Deleted:  []storage.ObjectID{existing},
			Updated: []storage.Record{{
				ID:      storage.ObjectID{Entity: "Note", Key: "missing"},
				Props:   value.Map{"v": value.Int(1)},
				Changed: []string{"v"},
			}},
		})
		require.Error(t, err)

		_, ok, err := b.Get(ctx, fresh)
		require.NoError(t, err)
		assert.False(t, ok, "insert from failed change set must not be visible")

		_, ok, err = b.Get(ctx, existing)
		require.NoError(t, err)
		assert.True(t, ok, "delete from failed change set must not be visible")

		commit := mustApply(t, b, storage.ChangeSet{Inserted: []storage.Record{{ID: fresh, Props: value.Map{}}}})
		assert.Equal(t, int64(2), commit.Seq, "failed apply must not consume a seq")
	})

	t.Run("InvalidChangeSet", func(t *testing.T) {
		b := open(t, newBackend)
		id := storage.ObjectID{Entity: "Note", Key: "n1"}

		_, err := b.Apply(context.Background(), storage.ChangeSet{
			Inserted: []storage.Record{{ID: id}},
			Deleted:  []storage.ObjectID{id},
		})
		require.Error(t, err)

		_, err = b.Apply(context.Background(), storage.ChangeSet{
			Deleted: []storage.ObjectID{{Entity: "", Key: "x"}},
		})
		require.Error(t, err)
	})

	t.Run("ScanOrder", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()

		note := func(key string) storage.Record {
			return storage.Record{ID: storage.ObjectID{Entity: "Note", Key: key}, Props: value.Map{}}
		}
		mustApply(t, b, storage.ChangeSet{Inserted: []storage.Record{note("c"), note("a")}})
		mustApply(t, b, storage.ChangeSet{Inserted: []storage.Record{note("b")}})
		mustApply(t, b, storage.ChangeSet{Inserted: []storage.Record{
			{ID: storage.ObjectID{Entity: "Tag", Key: "t"}, Props: value.Map{}},
		}})
		mustApply(t, b, storage.ChangeSet{Updated: []storage.Record{{
			ID: storage.ObjectID{Entity: "Note", Key: "a"}, Props: value.Map{"v": value.Int(1)}, Changed: []string{"v"},
		}}})

		recs, err := b.Scan(ctx, "Note")
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, keys(recs))

		recs, err = b.Scan(ctx, "Missing")
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)
	})

	t.Run("MonotonicSeq", func(t *testing.T) {
		b := open(t, newBackend)

		var last int64
		for i := range 5 {
			c := mustApply(t, b, storage.ChangeSet{Inserted: []storage.Record{{
				ID:    storage.ObjectID{Entity: "Note", Key: fmt.Sprintf("n%d", i)},
				Props: value.Map{},
			}}})
			assert.Greater(t, c.Seq, last)
			last = c.Seq
		}
	})

	t.Run("ConcurrentApply", func(t *testing.T) {
		b := open(t, newBackend)
		ctx := context.Background()

		const writers = 8
		seqs := make([]int64, writers)
		var g errgroup.Group
		for i := range writers {
			g.Go(func() error {
				c, err := b.Apply(ctx, storage.ChangeSet{Inserted: []storage.Record{{
					ID:    storage.ObjectID{Entity: "Note", Key: fmt.Sprintf("w%d", i)},
					Props: value.Map{"i": value.Int(i)},
				}}})
				seqs[i] = c.Seq
				return err
			})
		}
		require.NoError(t, g.Wait())

		seen := make(map[int64]bool)
		for _, s := range seqs {
			assert.False(t, seen[s], "seq %d assigned twice", s)
			seen[s] = true
		}
		recs, err := b.Scan(ctx, "Note")
		require.NoError(t, err)
		assert.Len(t, recs, writers)
	})

	t.Run("ClosedBackend", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		_, err := b.Apply(context.Background(), storage.ChangeSet{Deleted: []storage.ObjectID{{Entity: "Note", Key: "x"}}})
		require.ErrorIs(t, err, storage.ErrClosed)
		_, _, err = b.Get(context.Background(), storage.ObjectID{Entity: "Note", Key: "x"})
		require.ErrorIs(t, err, storage.ErrClosed)
		_, err = b.Scan(context.Background(), "Note")
		require.ErrorIs(t, err, storage.ErrClosed)
	})
}

func open(t *testing.T, newBackend func(t *testing.T) storage.Backend) storage.Backend {
	t.Helper()
	b := newBackend(t)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func mustApply(t *testing.T, b storage.Backend, cs storage.ChangeSet) storage.Commit {
	t.Helper()
	c, err := b.Apply(context.Background(), cs)
	require.NoError(t, err)
	return c
}

func keys(recs []storage.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID.Key
	}
	return out
}
