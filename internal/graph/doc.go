// Package graph implements contexts: in-memory units of work over a store.
//
// A Context caches committed object snapshots and records pending inserts,
// property edits and deletes. It never writes by itself; the coordinator
// turns a writer's pending changes into a storage.ChangeSet, makes it durable
// and merges the resulting commit into the main context.
//
// # Staleness
//
// Once an object has been read through a context its snapshot is served from
// the cache until a merge or Refresh replaces it. A main context that is not
// merged into keeps returning what it saw first, even after another context
// has committed newer values.
//
// # Merge policies
//
//   - ServerWins, Overwrite: incoming values replace conflicting local edits
//   - ClientWins: local edits survive and stay pending
//   - Error: any conflict aborts the merge and leaves the context untouched
//
// A remote delete of an object with local edits is a conflict under Error
// and discards the object under every other policy.
package graph
