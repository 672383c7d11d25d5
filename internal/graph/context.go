package graph

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"weak"

	"github.com/roach88/graphstore/internal/logging"
	"github.com/roach88/graphstore/internal/queue"
	"github.com/roach88/graphstore/internal/storage"
	"github.com/roach88/graphstore/internal/value"
)

// object is one cached object: its committed snapshot plus pending changes.
type object struct {
	committed value.Map
	version   int64
	stored    bool // committed reflects a stored object

	inserted bool
	deleted  bool
	edits    value.Map // pending property values; Null clears
	seq      int       // pending-insert order
}

func (o *object) dirty() bool {
	return o.inserted || o.deleted || len(o.edits) > 0
}

// view returns the object's properties with pending edits applied.
func (o *object) view() value.Map {
	if len(o.edits) == 0 {
		return o.committed.Clone()
	}
	names := make([]string, 0, len(o.edits))
	for k := range o.edits {
		names = append(names, k)
	}
	return storage.MergeProps(o.committed, storage.Record{Props: o.edits, Changed: names})
}

// Context is a unit of work over a backend.
//
// All methods are safe for concurrent use. Work that must not interleave
// with a save or merge should run through Perform or PerformAndWait, which
// execute on the context's serial queue.
type Context struct {
	id      ID
	kind    Kind
	name    string
	parent  weak.Pointer[Context]
	owner   any
	policy  MergePolicy
	backend storage.Backend
	queue   *queue.Queue
	logger  *slog.Logger

	mu        sync.Mutex
	objects   map[storage.ObjectID]*object
	insertSeq int
}

// Option configures a Context.
type Option func(*Context)

// WithMergePolicy sets the policy used when commits are merged into the context.
func WithMergePolicy(p MergePolicy) Option {
	return func(c *Context) {
		c.policy = p
	}
}

// WithName sets the name used in logs and queue names.
func WithName(name string) Option {
	return func(c *Context) {
		c.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		c.logger = logger
	}
}

// WithOwner tags the context with the coordinator that created it.
func WithOwner(owner any) Option {
	return func(c *Context) {
		c.owner = owner
	}
}

// NewMain creates a main context over backend.
func NewMain(backend storage.Backend, opts ...Option) *Context {
	return newContext(Main, backend, weak.Pointer[Context]{}, opts)
}

// NewWriter creates a writer context whose parent is main. The parent is
// held weakly; the writer does not keep the main context alive.
func NewWriter(main *Context, opts ...Option) *Context {
	c := newContext(Writer, main.backend, weak.Make(main), opts)
	if c.owner == nil {
		c.owner = main.owner
	}
	return c
}

func newContext(kind Kind, backend storage.Backend, parent weak.Pointer[Context], opts []Option) *Context {
	c := &Context{
		id:      NewID(),
		kind:    kind,
		parent:  parent,
		backend: backend,
		objects: make(map[storage.ObjectID]*object),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.name == "" {
		c.name = fmt.Sprintf("%s-%s", kind, c.id)
	}
	c.logger = logging.Default(c.logger).With("context", c.name)
	c.queue = queue.New(c.name, queue.WithLogger(c.logger))
	return c
}

// ID returns the context's identity.
func (c *Context) ID() ID { return c.id }

// Kind returns Main or Writer.
func (c *Context) Kind() Kind { return c.kind }

// Name returns the context's name.
func (c *Context) Name() string { return c.name }

// Owner returns the owner token set with WithOwner.
func (c *Context) Owner() any { return c.owner }

// MergePolicy returns the context's merge policy.
func (c *Context) MergePolicy() MergePolicy { return c.policy }

// Parent returns the main context of a writer, or nil for the main context
// or when the main context has been collected.
func (c *Context) Parent() *Context {
	return c.parent.Value()
}

// Perform runs fn on the context's queue without waiting.
// Returns false if the context is closed.
func (c *Context) Perform(fn func()) bool {
	return c.queue.Perform(fn)
}

// PerformAndWait runs fn on the context's queue and waits for it.
// It must not be called from work already running on this context's queue.
func (c *Context) PerformAndWait(fn func()) bool {
	return c.queue.PerformAndWait(fn)
}

// Close waits for queued work and stops the context's queue.
func (c *Context) Close() {
	c.queue.Close()
}

func (c *Context) errorf(code ErrorCode, id storage.ObjectID, format string, args ...any) *ContextError {
	e := &ContextError{Code: code, Message: fmt.Sprintf(format, args...), Context: c.id}
	if id.Valid() {
		e.Objects = []string{id.String()}
	}
	return e
}

// lookup returns the cached object for id, faulting it from the backend on
// first touch. Returns nil if the object is neither cached nor stored.
// c.mu must be held.
func (c *Context) lookup(ctx context.Context, id storage.ObjectID) (*object, error) {
	if o, ok := c.objects[id]; ok {
		return o, nil
	}
	rec, found, err := c.backend.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fault %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	o := &object{committed: rec.Props, version: rec.Version, stored: true}
	c.objects[id] = o
	return o, nil
}

// Insert creates a new object with a generated key.
func (c *Context) Insert(entity string, props value.Map) (storage.ObjectID, error) {
	id := storage.ObjectID{Entity: entity, Key: NewKey()}
	if !id.Valid() {
		return storage.ObjectID{}, c.errorf(ErrCodeInvalidEntity, storage.ObjectID{}, "entity name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(id, props)
	return id, nil
}

// InsertID creates a new object with a caller-chosen key. Fails with
// DUPLICATE_OBJECT if the id is already cached, pending or stored.
func (c *Context) InsertID(ctx context.Context, id storage.ObjectID, props value.Map) error {
	if !id.Valid() {
		return c.errorf(ErrCodeInvalidEntity, storage.ObjectID{}, "invalid object id %q", id.String())
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	o, err := c.lookup(ctx, id)
	if err != nil {
		return err
	}
	if o != nil && !o.deleted {
		return c.errorf(ErrCodeDuplicateObject, id, "object already exists")
	}
	if o != nil && o.deleted {
		return c.errorf(ErrCodeDuplicateObject, id, "object is pending deletion; save before reusing its key")
	}
	c.insertLocked(id, props)
	return nil
}

func (c *Context) insertLocked(id storage.ObjectID, props value.Map) {
	c.insertSeq++
	edits := props.Clone()
	if edits == nil {
		edits = value.Map{}
	}
	c.objects[id] = &object{inserted: true, edits: edits, seq: c.insertSeq}
}

// Set records a pending property value. A Null value clears the property.
func (c *Context) Set(ctx context.Context, id storage.ObjectID, key string, v value.Value) error {
	return c.Update(ctx, id, value.Map{key: v})
}

// Update records pending values for several properties.
func (c *Context) Update(ctx context.Context, id storage.ObjectID, props value.Map) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, err := c.lookup(ctx, id)
	if err != nil {
		return err
	}
	if o == nil || o.deleted {
		return c.errorf(ErrCodeObjectNotFound, id, "cannot update missing object")
	}
	if o.edits == nil {
		o.edits = value.Map{}
	}
	for k, v := range props {
		if v == nil {
			v = value.Null{}
		}
		o.edits[k] = v
	}
	return nil
}

// Delete marks an object for deletion. Deleting a pending insert drops it.
func (c *Context) Delete(ctx context.Context, id storage.ObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(ctx, id)
}

// DeleteAll deletes every id. It stops at the first missing object; ids
// before it stay marked.
func (c *Context) DeleteAll(ctx context.Context, ids []storage.ObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if err := c.deleteLocked(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) deleteLocked(ctx context.Context, id storage.ObjectID) error {
	o, err := c.lookup(ctx, id)
	if err != nil {
		return err
	}
	if o == nil || o.deleted {
		return c.errorf(ErrCodeObjectNotFound, id, "cannot delete missing object")
	}
	if o.inserted {
		delete(c.objects, id)
		return nil
	}
	o.deleted = true
	o.edits = nil
	return nil
}

// Rollback discards all pending changes. Cached snapshots are kept.
func (c *Context) Rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, o := range c.objects {
		if o.inserted {
			delete(c.objects, id)
			continue
		}
		o.deleted = false
		o.edits = nil
	}
}

// Get returns an object. With includePending the context's own unsaved
// changes are applied; otherwise the cached committed snapshot is returned.
func (c *Context) Get(ctx context.Context, id storage.ObjectID, includePending bool) (storage.Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, err := c.lookup(ctx, id)
	if err != nil || o == nil {
		return storage.Record{}, false, err
	}
	if includePending {
		if o.deleted {
			return storage.Record{}, false, nil
		}
		return storage.Record{ID: id, Props: o.view(), Version: o.version}, true, nil
	}
	if !o.stored {
		return storage.Record{}, false, nil
	}
	return storage.Record{ID: id, Props: o.committed.Clone(), Version: o.version}, true, nil
}

// Committed returns the cached committed properties of id, or nil when the
// object has no stored snapshot in this context.
func (c *Context) Committed(id storage.ObjectID) value.Map {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.objects[id]; ok && o.stored {
		return o.committed.Clone()
	}
	return nil
}

// HasChanges reports whether the context has unsaved changes.
func (c *Context) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.objects {
		if o.dirty() {
			return true
		}
	}
	return false
}

// ChangeSet returns the pending changes. Objects are ordered by entity,
// then key; updated records list their changed properties sorted.
func (c *Context) ChangeSet() storage.ChangeSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]storage.ObjectID, 0, len(c.objects))
	for id, o := range c.objects {
		if o.dirty() {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, compareIDs)

	var cs storage.ChangeSet
	for _, id := range ids {
		o := c.objects[id]
		switch {
		case o.inserted:
			cs.Inserted = append(cs.Inserted, storage.Record{ID: id, Props: storage.StripNulls(o.edits)})
		case o.deleted:
			cs.Deleted = append(cs.Deleted, id)
		default:
			changed := make([]string, 0, len(o.edits))
			for k := range o.edits {
				changed = append(changed, k)
			}
			slices.Sort(changed)
			cs.Updated = append(cs.Updated, storage.Record{ID: id, Props: o.edits.Clone(), Changed: changed})
		}
	}
	return cs
}

// ApplyCommitted folds a commit of this context's own changes into its
// cache. Edits that match the committed values stop being pending; edits
// made after the change set was taken stay pending.
func (c *Context) ApplyCommitted(cs storage.ChangeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fold := func(rec storage.Record) {
		o, ok := c.objects[rec.ID]
		if !ok {
			o = &object{}
			c.objects[rec.ID] = o
		}
		o.committed = rec.Props.Clone()
		o.version = rec.Version
		o.stored = true
		o.inserted = false
		for k, v := range o.edits {
			cur, has := rec.Props[k]
			_, isNull := v.(value.Null)
			if (has && value.Equal(cur, v)) || (!has && isNull) {
				delete(o.edits, k)
			}
		}
	}
	for _, rec := range cs.Inserted {
		fold(rec)
	}
	for _, rec := range cs.Updated {
		fold(rec)
	}
	for _, id := range cs.Deleted {
		if o, ok := c.objects[id]; ok && o.deleted {
			delete(c.objects, id)
		}
	}
}

// Merge folds a change set committed by another context into this one
// under policy. Deletes are applied unconditionally; use MergeCommit when
// the commit's sequence number is known.
func (c *Context) Merge(cs storage.ChangeSet, policy MergePolicy) (MergeResult, error) {
	return c.MergeCommit(storage.Commit{ChangeSet: cs}, policy)
}

// MergeCommit folds a commit made by another context into this one under
// policy.
//
// Only cached objects are touched: uncached objects are read from the store
// on first access anyway. Commits may arrive out of order; a record no newer
// than the cached snapshot is skipped, and so is a delete of an object
// cached at a version above commit.Seq. Under the Error policy a conflict
// returns a MERGE_CONFLICT error and nothing is changed.
func (c *Context) MergeCommit(commit storage.Commit, policy MergePolicy) (MergeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := commit.ChangeSet
	staleRecord := func(o *object, rec storage.Record) bool {
		return o.stored && rec.Version <= o.version
	}
	staleDelete := func(o *object) bool {
		return commit.Seq > 0 && o.stored && o.version > commit.Seq
	}

	var result MergeResult
	for _, rec := range append(slices.Clone(cs.Inserted), cs.Updated...) {
		if o, ok := c.objects[rec.ID]; ok && !staleRecord(o, rec) && conflicts(o, rec) {
			result.Conflicts = append(result.Conflicts, rec.ID.String())
		}
	}
	for _, id := range cs.Deleted {
		if o, ok := c.objects[id]; ok && !staleDelete(o) && len(o.edits) > 0 {
			result.Conflicts = append(result.Conflicts, id.String())
		}
	}
	slices.Sort(result.Conflicts)

	if policy == Error && len(result.Conflicts) > 0 {
		c.logger.Warn("merge conflict", "conflicts", len(result.Conflicts))
		return result, &ContextError{
			Code:    ErrCodeMergeConflict,
			Message: "incoming changes conflict with pending edits",
			Context: c.id,
			Objects: result.Conflicts,
		}
	}

	refresh := func(rec storage.Record) {
		o, ok := c.objects[rec.ID]
		if !ok || staleRecord(o, rec) {
			return
		}
		o.committed = rec.Props.Clone()
		o.version = rec.Version
		o.stored = true
		o.inserted = false
		if policy == ServerWins || policy == Overwrite {
			o.deleted = false
			if len(rec.Changed) == 0 {
				o.edits = nil
			}
			for _, k := range rec.Changed {
				delete(o.edits, k)
			}
		}
		result.Refreshed++
	}
	for _, rec := range cs.Inserted {
		refresh(rec)
	}
	for _, rec := range cs.Updated {
		refresh(rec)
	}
	for _, id := range cs.Deleted {
		if o, ok := c.objects[id]; ok && !staleDelete(o) {
			delete(c.objects, id)
			result.Discarded++
		}
	}
	return result, nil
}

// conflicts reports whether incoming rec collides with o's pending changes.
// A pending delete collides with any incoming write. Pending edits collide
// with incoming changes to the same properties; an incoming record without
// a Changed list touches every property.
func conflicts(o *object, rec storage.Record) bool {
	if o.deleted {
		return true
	}
	if len(o.edits) == 0 {
		return false
	}
	if len(rec.Changed) == 0 {
		return true
	}
	for _, k := range rec.Changed {
		if _, ok := o.edits[k]; ok {
			return true
		}
	}
	return false
}

// Refresh drops cached snapshots of objects without pending changes so the
// next read goes to the store. Returns the number dropped.
func (c *Context) Refresh() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, o := range c.objects {
		if !o.dirty() {
			delete(c.objects, id)
			n++
		}
	}
	return n
}

// Cached returns the number of objects held by the context.
func (c *Context) Cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

func compareIDs(a, b storage.ObjectID) int {
	return cmp.Or(cmp.Compare(a.Entity, b.Entity), cmp.Compare(a.Key, b.Key))
}
