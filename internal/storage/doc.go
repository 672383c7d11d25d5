// Package storage defines the durable side of graphstore: the objects a store
// holds, the change sets contexts commit, and the Backend contract every store
// implementation satisfies.
//
// Implementations:
//   - sqlite: the on-disk Store Handle, one SQLite file per store
//   - memory: an in-process backend for tests and ephemeral stores
//
// # Commit Semantics
//
// Backend.Apply writes a whole ChangeSet atomically and stamps every touched
// object with the commit's sequence number. Sequence numbers come from a
// monotonic logical clock and never from wall time, so scan order is stable
// across processes and restarts.
//
// Updates carry the names of the properties they change. A backend merges
// only those properties into the stored object, which keeps concurrent
// writers that touch disjoint properties of one object from clobbering each
// other. A Null value removes the property.
//
// storagetest holds the conformance suite; every backend runs it.
package storage
