package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/graphstore/internal/graph"
	"github.com/roach88/graphstore/internal/registry"
	"github.com/roach88/graphstore/internal/storage"
)

// Save persists the pending changes of a writer context.
//
// Rules are checked in order on the caller's goroutine, and a failing rule
// calls cb synchronously: a nil context fails with FOREIGN_CONTEXT, a closed
// coordinator with STORE_UNAVAILABLE,
// the main context with ILLEGAL_MAIN_CONTEXT_SAVE, a context from another
// coordinator with FOREIGN_CONTEXT and a context without changes with
// NO_PENDING_CHANGES.
//
// Otherwise the write runs on the writer's queue. With synchronous set Save
// blocks until the durable write has finished; the merge and the callback
// still happen later. cb may be nil, in which case the outcome is only
// logged. No save is ever retried.
func (c *Coordinator) Save(w *graph.Context, synchronous bool, cb Callback) {
	if w == nil {
		c.fail(cb, saveError(ErrCodeForeignContext, graph.ID{}, nil, "context is nil"))
		return
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		c.fail(cb, saveError(ErrCodeStoreUnavailable, w.ID(), nil, "coordinator is closed"))
		return
	}
	c.inflight.Add(1)
	c.mu.RUnlock()

	switch {
	case w == c.main:
		c.inflight.Done()
		c.fail(cb, saveError(ErrCodeIllegalMainContextSave, w.ID(), nil, "the main context cannot be saved"))
		return
	case w.Owner() != c || w.Kind() != graph.Writer:
		c.inflight.Done()
		c.fail(cb, saveError(ErrCodeForeignContext, w.ID(), nil, "context was not created by this coordinator"))
		return
	case !w.HasChanges():
		c.inflight.Done()
		c.fail(cb, saveError(ErrCodeNoPendingChanges, w.ID(), nil, "context has no pending changes"))
		return
	}

	seq := c.saveSeq.Add(1)
	work := func() { c.write(w, seq, cb) }

	var accepted bool
	if synchronous {
		accepted = w.PerformAndWait(work)
	} else {
		accepted = w.Perform(work)
	}
	if !accepted {
		c.inflight.Done()
		c.fail(cb, saveError(ErrCodeStoreUnavailable, w.ID(), nil, "context is closed"))
	}
}

// SaveAndWait saves w and blocks until the outcome is delivered, returning
// its error. It must not be called from a completion callback.
func (c *Coordinator) SaveAndWait(w *graph.Context) error {
	done := make(chan Outcome, 1)
	c.Save(w, false, func(o Outcome) { done <- o })
	return (<-done).Err
}

// fail reports a guard failure on the caller's goroutine.
func (c *Coordinator) fail(cb Callback, err *SaveError) {
	c.logger.Debug("save rejected", "code", err.Code, "context", err.Context)
	if cb != nil {
		cb(Outcome{Err: err})
	}
}

// write runs on the writer's queue. It owns one inflight slot and releases
// it once the outcome has been handed to the delivery executor.
func (c *Coordinator) write(w *graph.Context, seq uint64, cb Callback) {
	id := w.ID()
	logger := c.logger.With("context", w.Name(), "save", seq)

	if cb != nil {
		prev, replaced, err := c.completions.Register(id, pending{seq: seq, cb: cb})
		if errors.Is(err, registry.ErrPending) {
			defer c.inflight.Done()
			logger.Warn("save rejected: completion already pending")
			c.deliver(cb, Outcome{Err: saveError(ErrCodeSaveInFlight, id, nil, "a previous save of this context has not completed")})
			return
		}
		if replaced {
			logger.Warn("pending completion superseded", "superseded_save", prev.seq)
			c.deliver(prev.cb, Outcome{Err: saveError(ErrCodeSuperseded, id, nil, "superseded by a newer save of this context")})
		}
	}

	// failWrite deregisters this save's completion and fails it.
	failWrite := func(err *SaveError) {
		defer c.inflight.Done()
		logger.Error("save failed", "code", err.Code, "error", err)
		if p, ok := c.takeCompletion(id, seq); ok {
			c.deliver(p.cb, Outcome{Err: err})
		}
	}

	cs := w.ChangeSet()
	if cs.Empty() {
		failWrite(saveError(ErrCodeNoPendingChanges, id, nil, "context has no pending changes"))
		return
	}

	if c.schema != nil {
		if err := c.schema.ValidateChangeSet(cs, w.Committed); err != nil {
			failWrite(saveError(ErrCodeWriteFailed, id, err, "change set failed schema validation"))
			return
		}
	}

	commit, err := c.backend.Apply(context.Background(), cs)
	if err != nil {
		failWrite(saveError(ErrCodeWriteFailed, id, err, "durable write failed"))
		return
	}
	w.ApplyCommitted(commit.ChangeSet)
	logger.Debug("save written", "seq", commit.Seq, "objects", cs.Len())

	if !c.notifier.Perform(func() { c.notify(w, seq, commit) }) {
		// Close waits for inflight saves before closing the notifier.
		c.inflight.Done()
	}
}

// notify runs on the notifier queue: merge into main, then deliver.
func (c *Coordinator) notify(w *graph.Context, seq uint64, commit storage.Commit) {
	defer c.inflight.Done()
	id := w.ID()
	logger := c.logger.With("context", w.Name(), "save", seq, "seq", commit.Seq)

	var (
		result   graph.MergeResult
		mergeErr error
	)
	c.main.PerformAndWait(func() {
		result, mergeErr = c.main.MergeCommit(commit, w.MergePolicy())
		if mergeErr == nil {
			c.flushMain(logger)
		}
	})

	outcome := Outcome{Seq: commit.Seq, Digest: commit.Digest}
	if mergeErr != nil {
		logger.Warn("merge into main context failed", "error", mergeErr, "conflicts", len(result.Conflicts))
		outcome.Err = saveError(ErrCodeMergeConflict, id, mergeErr, "committed changes conflict with main context edits")
	} else {
		logger.Debug("merged into main context", "refreshed", result.Refreshed, "discarded", result.Discarded)
	}

	if p, ok := c.takeCompletion(id, seq); ok {
		c.deliver(p.cb, outcome)
	}
}

// flushMain persists the main context's own edits that survived a merge.
// It bypasses the registry: nobody waits on it. Runs on main's queue.
func (c *Coordinator) flushMain(logger *slog.Logger) {
	if !c.main.HasChanges() {
		return
	}
	commit, err := c.backend.Apply(context.Background(), c.main.ChangeSet())
	if err != nil {
		logger.Error("main context flush failed", "error", err)
		return
	}
	c.main.ApplyCommitted(commit.ChangeSet)
}

func (c *Coordinator) takeCompletion(id graph.ID, seq uint64) (pending, bool) {
	return c.completions.TakeIf(id, func(p pending) bool { return p.seq == seq })
}

// deliver runs cb on the configured executor.
func (c *Coordinator) deliver(cb Callback, o Outcome) {
	run := func() { cb(o) }
	switch c.delivery {
	case DeliverMain:
		if c.main.Perform(run) {
			return
		}
	default:
		if c.callbacks.Perform(run) {
			return
		}
	}
	// Executor already closed; deliver inline rather than lose the outcome.
	run()
}
