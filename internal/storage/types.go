package storage

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/graphstore/internal/value"
)

// ObjectID identifies an object: the entity it belongs to plus an opaque key.
type ObjectID struct {
	Entity string
	Key    string
}

// String returns "Entity/Key".
func (id ObjectID) String() string {
	return id.Entity + "/" + id.Key
}

// Valid reports whether both parts are set.
func (id ObjectID) Valid() bool {
	return id.Entity != "" && id.Key != ""
}

// Record is an object's properties at some version.
//
// In a change set, Changed names the properties an update modifies; Props
// holds their final values (and, for inserts, every property). Version is
// zero until the record has been committed.
type Record struct {
	ID      ObjectID
	Props   value.Map
	Changed []string
	Version int64
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	return Record{
		ID:      r.ID,
		Props:   r.Props.Clone(),
		Changed: slices.Clone(r.Changed),
		Version: r.Version,
	}
}

// ChangeSet is the pending work of one context: what it inserted, updated and
// deleted. It is the payload of a durable write and, once committed, of the
// merge into the main context.
type ChangeSet struct {
	Inserted []Record
	Updated  []Record
	Deleted  []ObjectID
}

// Empty reports whether the change set carries no work.
func (cs ChangeSet) Empty() bool {
	return len(cs.Inserted) == 0 && len(cs.Updated) == 0 && len(cs.Deleted) == 0
}

// Len returns the number of touched objects.
func (cs ChangeSet) Len() int {
	return len(cs.Inserted) + len(cs.Updated) + len(cs.Deleted)
}

// Touches reports whether id is inserted, updated or deleted by cs.
func (cs ChangeSet) Touches(id ObjectID) bool {
	for _, r := range cs.Inserted {
		if r.ID == id {
			return true
		}
	}
	for _, r := range cs.Updated {
		if r.ID == id {
			return true
		}
	}
	return slices.Contains(cs.Deleted, id)
}

// Clone returns a deep copy of cs.
func (cs ChangeSet) Clone() ChangeSet {
	out := ChangeSet{
		Deleted: slices.Clone(cs.Deleted),
	}
	for _, r := range cs.Inserted {
		out.Inserted = append(out.Inserted, r.Clone())
	}
	for _, r := range cs.Updated {
		out.Updated = append(out.Updated, r.Clone())
	}
	return out
}

// Canonical encodes cs as canonical JSON. Versions are excluded so a change
// set encodes the same before and after it commits.
func (cs ChangeSet) Canonical() ([]byte, error) {
	return value.MarshalCanonical(cs.canonicalValue())
}

// Digest returns the content hash of cs.
func (cs ChangeSet) Digest() (string, error) {
	data, err := cs.Canonical()
	if err != nil {
		return "", fmt.Errorf("digest change set: %w", err)
	}
	return value.DigestBytes(value.DomainChangeSet, data), nil
}

func (cs ChangeSet) canonicalValue() value.Map {
	records := func(rs []Record, withChanged bool) value.List {
		out := make(value.List, 0, len(rs))
		for _, r := range rs {
			m := value.Map{
				"entity": value.String(r.ID.Entity),
				"key":    value.String(r.ID.Key),
				"props":  r.Props,
			}
			if r.Props == nil {
				m["props"] = value.Map{}
			}
			if withChanged {
				changed := slices.Clone(r.Changed)
				slices.Sort(changed)
				names := make(value.List, 0, len(changed))
				for _, k := range changed {
					names = append(names, value.String(k))
				}
				m["changed"] = names
			}
			out = append(out, m)
		}
		return out
	}

	deleted := make(value.List, 0, len(cs.Deleted))
	for _, id := range cs.Deleted {
		deleted = append(deleted, value.Map{
			"entity": value.String(id.Entity),
			"key":    value.String(id.Key),
		})
	}

	return value.Map{
		"inserted": records(cs.Inserted, false),
		"updated":  records(cs.Updated, true),
		"deleted":  deleted,
	}
}

// Commit describes a change set that a backend has made durable.
type Commit struct {
	Seq       int64
	Digest    string
	ChangeSet ChangeSet
}

// Backend is a durable object store.
//
// Implementations must be safe for concurrent use. Apply is atomic: either
// every change in the set is durable or none is.
type Backend interface {
	// Apply writes cs and returns the commit. The returned change set holds
	// the stored state of every inserted and updated object, with Version set
	// to the commit's Seq.
	Apply(ctx context.Context, cs ChangeSet) (Commit, error)

	// Get returns the stored object, or false if it does not exist.
	Get(ctx context.Context, id ObjectID) (Record, bool, error)

	// Scan returns every object of an entity ordered by version, then key.
	Scan(ctx context.Context, entity string) ([]Record, error)

	// Close releases the backend. Further calls return ErrClosed.
	Close() error
}

// Validate checks cs for malformed ids and for objects that appear twice.
// Backends call it before writing.
func (cs ChangeSet) Validate() error {
	seen := make(map[ObjectID]struct{}, cs.Len())
	check := func(id ObjectID) error {
		if !id.Valid() {
			return fmt.Errorf("invalid object id %q", id.String())
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("object %s appears more than once in change set", id)
		}
		seen[id] = struct{}{}
		return nil
	}
	for _, r := range cs.Inserted {
		if err := check(r.ID); err != nil {
			return err
		}
	}
	for _, r := range cs.Updated {
		if err := check(r.ID); err != nil {
			return err
		}
	}
	for _, id := range cs.Deleted {
		if err := check(id); err != nil {
			return err
		}
	}
	return nil
}

// MergeProps applies an update's changed properties to stored. Null values
// remove the property. stored is not modified.
func MergeProps(stored value.Map, update Record) value.Map {
	out := stored.Clone()
	if out == nil {
		out = value.Map{}
	}
	for _, k := range update.Changed {
		v, ok := update.Props[k]
		if !ok {
			continue
		}
		if _, isNull := v.(value.Null); isNull || v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// StripNulls returns props without Null values. Inserts are stored this way.
func StripNulls(props value.Map) value.Map {
	out := make(value.Map, len(props))
	for k, v := range props {
		if _, isNull := v.(value.Null); isNull || v == nil {
			continue
		}
		out[k] = v
	}
	return out
}
