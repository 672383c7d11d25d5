package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphstore/internal/fetch"
	"github.com/roach88/graphstore/internal/storage"
	"github.com/roach88/graphstore/internal/storage/memory"
	"github.com/roach88/graphstore/internal/value"
)

// seed stores an object directly in the backend, bypassing any context.
func seed(t *testing.T, b storage.Backend, key string, props value.Map) storage.ObjectID {
	t.Helper()
	id := storage.ObjectID{Entity: "Note", Key: key}
	_, err := b.Apply(context.Background(), storage.ChangeSet{Inserted: []storage.Record{{ID: id, Props: props}}})
	require.NoError(t, err)
	return id
}

// commit saves a context's changes the way the coordinator does.
func commit(t *testing.T, c *Context) storage.Commit {
	t.Helper()
	cm, err := c.backend.Apply(context.Background(), c.ChangeSet())
	require.NoError(t, err)
	c.ApplyCommitted(cm.ChangeSet)
	return cm
}

func TestNewWriter(t *testing.T) {
	b := memory.NewStore()
	main := NewMain(b, WithName("main"), WithOwner("coord"))
	w := NewWriter(main, WithMergePolicy(ServerWins))

	assert.Equal(t, Main, main.Kind())
	assert.Equal(t, Writer, w.Kind())
	assert.Same(t, main, w.Parent())
	assert.Nil(t, main.Parent())
	assert.Equal(t, "coord", w.Owner(), "writer inherits owner")
	assert.Equal(t, ServerWins, w.MergePolicy())
	assert.Equal(t, ClientWins, main.MergePolicy())
	assert.NotEqual(t, main.ID(), w.ID())
	assert.False(t, w.ID().IsZero())
	assert.Equal(t, "main", main.Name())
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	c := NewMain(memory.NewStore())

	id, err := c.Insert("Note", value.Map{"title": value.String("a")})
	require.NoError(t, err)
	assert.Equal(t, "Note", id.Entity)
	assert.NotEmpty(t, id.Key)
	assert.True(t, c.HasChanges())

	rec, ok, err := c.Get(ctx, id, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Map{"title": value.String("a")}, rec.Props)

	_, ok, err = c.Get(ctx, id, false)
	require.NoError(t, err)
	assert.False(t, ok, "unsaved insert has no committed snapshot")

	_, err = c.Insert("", nil)
	assert.True(t, IsCode(err, ErrCodeInvalidEntity))
}

func TestInsertID_Duplicate(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	id := seed(t, b, "n1", value.Map{})
	c := NewMain(b)

	err := c.InsertID(ctx, id, value.Map{})
	assert.True(t, IsCode(err, ErrCodeDuplicateObject))

	fresh := storage.ObjectID{Entity: "Note", Key: "n2"}
	require.NoError(t, c.InsertID(ctx, fresh, value.Map{"v": value.Int(1)}))
	assert.True(t, IsCode(c.InsertID(ctx, fresh, value.Map{}), ErrCodeDuplicateObject))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	id := seed(t, b, "n1", value.Map{"title": value.String("a"), "count": value.Int(1)})
	c := NewMain(b)

	require.NoError(t, c.Set(ctx, id, "title", value.String("b")))
	require.NoError(t, c.Update(ctx, id, value.Map{"count": value.Null{}}))

	rec, ok, err := c.Get(ctx, id, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Map{"title": value.String("b")}, rec.Props)

	rec, _, err = c.Get(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, value.Map{"title": value.String("a"), "count": value.Int(1)}, rec.Props)

	err = c.Set(ctx, storage.ObjectID{Entity: "Note", Key: "missing"}, "x", value.Int(1))
	assert.True(t, IsNotFound(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	id := seed(t, b, "n1", value.Map{})
	c := NewMain(b)

	require.NoError(t, c.Delete(ctx, id))
	_, ok, err := c.Get(ctx, id, true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, IsNotFound(c.Delete(ctx, id)), "second delete")
	assert.True(t, IsNotFound(c.Set(ctx, id, "x", value.Int(1))))

	pending, err := c.Insert("Note", value.Map{})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, pending))

	cs := c.ChangeSet()
	assert.Empty(t, cs.Inserted, "deleted pending insert is dropped")
	assert.Equal(t, []storage.ObjectID{id}, cs.Deleted)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	a := seed(t, b, "a", value.Map{})
	bID := seed(t, b, "b", value.Map{})
	c := NewMain(b)

	require.NoError(t, c.DeleteAll(ctx, []storage.ObjectID{a, bID}))
	assert.Equal(t, []storage.ObjectID{a, bID}, c.ChangeSet().Deleted)

	err := c.DeleteAll(ctx, []storage.ObjectID{{Entity: "Note", Key: "zzz"}})
	assert.True(t, IsNotFound(err))
}

func TestChangeSet(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	upd := seed(t, b, "u", value.Map{"a": value.Int(1)})
	del := seed(t, b, "d", value.Map{})
	c := NewMain(b)

	require.NoError(t, c.InsertID(ctx, storage.ObjectID{Entity: "Note", Key: "i"}, value.Map{"x": value.Int(1), "gone": value.Null{}}))
	require.NoError(t, c.Update(ctx, upd, value.Map{"z": value.Int(2), "a": value.Int(3)}))
	require.NoError(t, c.Delete(ctx, del))

	cs := c.ChangeSet()
	require.Len(t, cs.Inserted, 1)
	assert.Equal(t, value.Map{"x": value.Int(1)}, cs.Inserted[0].Props)
	require.Len(t, cs.Updated, 1)
	assert.Equal(t, []string{"a", "z"}, cs.Updated[0].Changed)
	assert.Equal(t, []storage.ObjectID{del}, cs.Deleted)
}

func TestApplyCommitted(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	id := seed(t, b, "n1", value.Map{"title": value.String("a")})
	c := NewMain(b)

	require.NoError(t, c.Set(ctx, id, "title", value.String("b")))
	cs := c.ChangeSet()

	// An edit made after the change set was taken survives the fold.
	require.NoError(t, c.Set(ctx, id, "extra", value.Int(1)))

	cm, err := b.Apply(ctx, cs)
	require.NoError(t, err)
	c.ApplyCommitted(cm.ChangeSet)

	rec, _, err := c.Get(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, value.Map{"title": value.String("b")}, rec.Props)
	assert.Equal(t, cm.Seq, rec.Version)

	assert.True(t, c.HasChanges())
	assert.Equal(t, []string{"extra"}, c.ChangeSet().Updated[0].Changed)
}

func TestApplyCommitted_InsertAndDelete(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	gone := seed(t, b, "gone", value.Map{})
	c := NewMain(b)

	id, err := c.Insert("Note", value.Map{"title": value.String("new")})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, gone))

	commit(t, c)
	assert.False(t, c.HasChanges())

	rec, ok, err := c.Get(ctx, id, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Map{"title": value.String("new")}, rec.Props)

	_, ok, err = c.Get(ctx, gone, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedSnapshotIsStaleUntilMerge(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	id := seed(t, b, "n1", value.Map{"title": value.String("old")})

	main := NewMain(b)
	_, _, err := main.Get(ctx, id, false)
	require.NoError(t, err)

	w := NewWriter(main)
	require.NoError(t, w.Set(ctx, id, "title", value.String("new")))
	cm := commit(t, w)

	rec, _, err := main.Get(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, value.String("old"), rec.Props["title"], "main serves its cached snapshot")

	res, err := main.Merge(cm.ChangeSet, ClientWins)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refreshed)

	rec, _, err = main.Get(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, value.String("new"), rec.Props["title"])
	assert.Equal(t, cm.Seq, rec.Version)
}

func TestMerge_Policies(t *testing.T) {
	tests := []struct {
		policy    MergePolicy
		wantTitle value.Value
		wantNote  value.Value
		wantErr   bool
	}{
		{ServerWins, value.String("remote"), value.String("local-note"), false},
		{Overwrite, value.String("remote"), value.String("local-note"), false},
		{ClientWins, value.String("local"), value.String("local-note"), false},
		{Error, value.String("local"), value.String("local-note"), true},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			ctx := context.Background()
			b := memory.NewStore()
			id := seed(t, b, "n1", value.Map{"title": value.String("base")})

			main := NewMain(b)
			require.NoError(t, main.Update(ctx, id, value.Map{"title": value.String("local"), "note": value.String("local-note")}))

			w := NewWriter(main)
			require.NoError(t, w.Set(ctx, id, "title", value.String("remote")))
			cm := commit(t, w)

			res, err := main.Merge(cm.ChangeSet, tt.policy)
			assert.Equal(t, []string{id.String()}, res.Conflicts)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsMergeConflict(err))
				rec, _, err := main.Get(ctx, id, false)
				require.NoError(t, err)
				assert.Equal(t, value.String("base"), rec.Props["title"], "aborted merge leaves snapshot untouched")
			} else {
				require.NoError(t, err)
			}

			rec, ok, err := main.Get(ctx, id, true)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.wantTitle, rec.Props["title"])
			assert.Equal(t, tt.wantNote, rec.Props["note"], "non-conflicting edit survives")
		})
	}
}

func TestMerge_RemoteDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("clean object is discarded", func(t *testing.T) {
		b := memory.NewStore()
		id := seed(t, b, "n1", value.Map{})
		main := NewMain(b)
		_, _, err := main.Get(ctx, id, false)
		require.NoError(t, err)

		res, err := main.Merge(storage.ChangeSet{Deleted: []storage.ObjectID{id}}, Error)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Discarded)
	})

	t.Run("edited object conflicts under Error", func(t *testing.T) {
		b := memory.NewStore()
		id := seed(t, b, "n1", value.Map{})
		main := NewMain(b)
		require.NoError(t, main.Set(ctx, id, "x", value.Int(1)))

		_, err := main.Merge(storage.ChangeSet{Deleted: []storage.ObjectID{id}}, Error)
		require.True(t, IsMergeConflict(err))
		assert.True(t, main.HasChanges())
	})

	t.Run("edited object is discarded under ClientWins", func(t *testing.T) {
		b := memory.NewStore()
		id := seed(t, b, "n1", value.Map{})
		main := NewMain(b)
		require.NoError(t, main.Set(ctx, id, "x", value.Int(1)))

		res, err := main.Merge(storage.ChangeSet{Deleted: []storage.ObjectID{id}}, ClientWins)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Discarded)
		assert.False(t, main.HasChanges())
	})
}

func TestMergeCommit_SkipsStaleCommits(t *testing.T) {
	ctx := context.Background()

	t.Run("older update", func(t *testing.T) {
		b := memory.NewStore()
		id := seed(t, b, "n1", value.Map{"title": value.String("base")})
		main := NewMain(b)
		_, _, err := main.Get(ctx, id, false)
		require.NoError(t, err)

		w1 := NewWriter(main)
		require.NoError(t, w1.Set(ctx, id, "title", value.String("one")))
		older := commit(t, w1)
		w2 := NewWriter(main)
		require.NoError(t, w2.Set(ctx, id, "title", value.String("two")))
		newer := commit(t, w2)

		res, err := main.MergeCommit(newer, ClientWins)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Refreshed)

		res, err = main.MergeCommit(older, Error)
		require.NoError(t, err, "a stale record never conflicts")
		assert.Zero(t, res.Refreshed)

		rec, _, err := main.Get(ctx, id, false)
		require.NoError(t, err)
		assert.Equal(t, value.String("two"), rec.Props["title"])
		assert.Equal(t, newer.Seq, rec.Version)
	})

	t.Run("older delete", func(t *testing.T) {
		b := memory.NewStore()
		id := seed(t, b, "n1", value.Map{"title": value.String("first")})
		main := NewMain(b)
		_, _, err := main.Get(ctx, id, false)
		require.NoError(t, err)

		w1 := NewWriter(main)
		require.NoError(t, w1.Delete(ctx, id))
		deleted := commit(t, w1)
		w2 := NewWriter(main)
		require.NoError(t, w2.InsertID(ctx, id, value.Map{"title": value.String("again")}))
		reinserted := commit(t, w2)

		_, err = main.MergeCommit(reinserted, ClientWins)
		require.NoError(t, err)
		res, err := main.MergeCommit(deleted, ClientWins)
		require.NoError(t, err)
		assert.Zero(t, res.Discarded)

		rec, ok, err := main.Get(ctx, id, false)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, value.String("again"), rec.Props["title"])
	})
}

func TestMerge_IgnoresUncachedObjects(t *testing.T) {
	b := memory.NewStore()
	main := NewMain(b)
	res, err := main.Merge(storage.ChangeSet{Updated: []storage.Record{{
		ID: storage.ObjectID{Entity: "Note", Key: "x"}, Props: value.Map{}, Changed: []string{"a"},
	}}}, Error)
	require.NoError(t, err)
	assert.Zero(t, res.Refreshed)
	assert.Zero(t, main.Cached())
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	clean := seed(t, b, "clean", value.Map{"v": value.Int(1)})
	dirty := seed(t, b, "dirty", value.Map{})
	main := NewMain(b)

	_, _, err := main.Get(ctx, clean, false)
	require.NoError(t, err)
	require.NoError(t, main.Set(ctx, dirty, "v", value.Int(2)))

	_, err = b.Apply(ctx, storage.ChangeSet{Updated: []storage.Record{{
		ID: clean, Props: value.Map{"v": value.Int(5)}, Changed: []string{"v"},
	}}})
	require.NoError(t, err)

	assert.Equal(t, 1, main.Refresh())
	assert.True(t, main.HasChanges())

	rec, _, err := main.Get(ctx, clean, false)
	require.NoError(t, err)
	assert.Equal(t, value.Int(5), rec.Props["v"])
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	id := seed(t, b, "n1", value.Map{})
	c := NewMain(b)

	_, err := c.Insert("Note", value.Map{})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, id))
	c.Rollback()

	assert.False(t, c.HasChanges())
	_, ok, err := c.Get(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPerform(t *testing.T) {
	c := NewMain(memory.NewStore())
	ran := false
	require.True(t, c.PerformAndWait(func() { ran = true }))
	assert.True(t, ran)

	c.Close()
	assert.False(t, c.Perform(func() {}))
}

func TestParseMergePolicy(t *testing.T) {
	for _, p := range []MergePolicy{ClientWins, ServerWins, Overwrite, Error} {
		got, err := ParseMergePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseMergePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ClientWins, got)

	_, err = ParseMergePolicy("last-writer")
	require.Error(t, err)
}

func keys(recs []storage.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID.Key
	}
	return out
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	seed(t, b, "b", value.Map{"n": value.Int(2)})
	a := seed(t, b, "a", value.Map{"n": value.Int(1)})
	seed(t, b, "c", value.Map{"n": value.Int(3)})
	c := NewMain(b)

	require.NoError(t, c.InsertID(ctx, storage.ObjectID{Entity: "Note", Key: "p"}, value.Map{"n": value.Int(0)}))
	require.NoError(t, c.Delete(ctx, a))

	got, err := c.Fetch(ctx, fetch.Request{Entity: "Note"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, keys(got), "committed view in store order")

	got, err = c.Fetch(ctx, fetch.Request{Entity: "Note", IncludePending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "p"}, keys(got))

	got, err = c.Fetch(ctx, fetch.Request{
		Entity:         "Note",
		IncludePending: true,
		Where:          fetch.MustCompile(`self.n >= 2`),
		Sort:           []fetch.Sort{{Key: "n", Descending: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, keys(got))

	page, err := c.FetchPage(ctx, fetch.Request{Entity: "Note"}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys(page))
}

func TestFetch_ServesCachedSnapshots(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	id := seed(t, b, "n1", value.Map{"v": value.Int(1)})
	main := NewMain(b)

	_, err := main.Fetch(ctx, fetch.Request{Entity: "Note"})
	require.NoError(t, err)

	_, err = b.Apply(ctx, storage.ChangeSet{Updated: []storage.Record{{
		ID: id, Props: value.Map{"v": value.Int(9)}, Changed: []string{"v"},
	}}})
	require.NoError(t, err)

	got, err := main.Fetch(ctx, fetch.Request{Entity: "Note"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, value.Int(1), got[0].Props["v"])
}

func TestFetchOne(t *testing.T) {
	ctx := context.Background()
	b := memory.NewStore()
	seed(t, b, "a", value.Map{"tag": value.String("x")})
	seed(t, b, "b", value.Map{"tag": value.String("x")})
	seed(t, b, "c", value.Map{"tag": value.String("y")})
	c := NewMain(b)

	rec, ok, err := c.FetchOne(ctx, fetch.Request{Entity: "Note", Where: fetch.Eq("tag", value.String("y"))})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", rec.ID.Key)

	_, ok, err = c.FetchOne(ctx, fetch.Request{Entity: "Note", Where: fetch.Eq("tag", value.String("z"))})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.FetchOne(ctx, fetch.Request{Entity: "Note", Where: fetch.Eq("tag", value.String("x"))})
	assert.True(t, IsCode(err, ErrCodeMultipleResults))
}
