// Package schema validates object properties against CUE entity definitions.
//
// A schema file declares one closed definition per entity:
//
//	#Note: {
//		title:  string
//		count?: int & >=0
//	}
//
// Objects of entity "Note" must unify with #Note and be concrete. Entities
// without a definition are rejected.
package schema

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/graphstore/internal/storage"
	"github.com/roach88/graphstore/internal/value"
)

// Error describes a schema compile or validation failure.
type Error struct {
	Entity  string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	if e.Entity != "" {
		fmt.Fprintf(&b, "%s: ", e.Entity)
	}
	b.WriteString(e.Message)
	return b.String()
}

// Schema is a compiled set of entity definitions. Safe for concurrent use.
type Schema struct {
	mu       sync.Mutex // cue values are not safe for concurrent evaluation
	ctx      *cue.Context
	root     cue.Value
	entities []string
}

// Compile parses CUE source. filename is used in error positions.
func Compile(filename string, src []byte) (*Schema, error) {
	ctx := cuecontext.New()
	root := ctx.CompileBytes(src, cue.Filename(filename))
	if err := root.Err(); err != nil {
		return nil, formatCUEError("", err)
	}

	iter, err := root.Fields(cue.Definitions(true))
	if err != nil {
		return nil, formatCUEError("", err)
	}
	var entities []string
	for iter.Next() {
		sel := iter.Selector()
		if !sel.IsDefinition() {
			continue
		}
		entities = append(entities, strings.TrimPrefix(sel.String(), "#"))
	}
	slices.Sort(entities)

	return &Schema{ctx: ctx, root: root, entities: entities}, nil
}

// Load reads and compiles a CUE file.
func Load(path string) (*Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Compile(path, src)
}

// Entities returns the defined entity names in sorted order.
func (s *Schema) Entities() []string {
	return slices.Clone(s.entities)
}

// Has reports whether entity has a definition.
func (s *Schema) Has(entity string) bool {
	_, found := slices.BinarySearch(s.entities, entity)
	return found
}

// Validate checks props against the definition of entity. Null properties
// are treated as absent.
func (s *Schema) Validate(entity string, props value.Map) error {
	if !s.Has(entity) {
		return &Error{Entity: entity, Message: "no schema definition for entity"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	def := s.root.LookupPath(cue.ParsePath("#" + entity))
	data := s.ctx.Encode(value.MapToNative(storage.StripNulls(props)))
	if err := data.Err(); err != nil {
		return formatCUEError(entity, err)
	}
	if err := def.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(entity, err)
	}
	return nil
}

// ValidateChangeSet validates every inserted object and the merged state of
// every updated object. stored returns the committed properties of an
// updated object.
func (s *Schema) ValidateChangeSet(cs storage.ChangeSet, stored func(storage.ObjectID) value.Map) error {
	for _, rec := range cs.Inserted {
		if err := s.Validate(rec.ID.Entity, rec.Props); err != nil {
			return err
		}
	}
	for _, rec := range cs.Updated {
		if err := s.Validate(rec.ID.Entity, storage.MergeProps(stored(rec.ID), rec)); err != nil {
			return err
		}
	}
	return nil
}

func formatCUEError(entity string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Entity: entity, Message: err.Error()}
	}
	first := errs[0]
	out := &Error{Entity: entity, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}
