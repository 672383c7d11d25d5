package graph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID identifies a context. IDs are UUIDv7 so they sort by creation time.
type ID uuid.UUID

// NewID returns a fresh context ID.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

// String returns the canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// NewKey returns a fresh object key.
func NewKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Kind distinguishes the main context from writer contexts.
type Kind int

const (
	// Main is the single read-facing context.
	Main Kind = iota + 1
	// Writer is a context whose changes are saved by the coordinator.
	Writer
)

func (k Kind) String() string {
	switch k {
	case Main:
		return "main"
	case Writer:
		return "writer"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MergePolicy resolves conflicts between incoming committed values and a
// context's own pending edits.
type MergePolicy int

const (
	// ClientWins keeps local edits. Default for writer contexts.
	ClientWins MergePolicy = iota
	// ServerWins replaces conflicting local edits with incoming values.
	ServerWins
	// Overwrite behaves like ServerWins.
	Overwrite
	// Error aborts the merge on any conflict.
	Error
)

func (p MergePolicy) String() string {
	switch p {
	case ClientWins:
		return "client-wins"
	case ServerWins:
		return "server-wins"
	case Overwrite:
		return "overwrite"
	case Error:
		return "error"
	}
	return fmt.Sprintf("MergePolicy(%d)", int(p))
}

// ParseMergePolicy parses the String form of a policy. Empty means ClientWins.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "client-wins", "clientwins":
		return ClientWins, nil
	case "server-wins", "serverwins":
		return ServerWins, nil
	case "overwrite":
		return Overwrite, nil
	case "error":
		return Error, nil
	}
	return 0, fmt.Errorf("unknown merge policy %q", s)
}

// MergeResult reports what a merge changed.
type MergeResult struct {
	// Refreshed counts cached snapshots replaced by incoming values.
	Refreshed int
	// Discarded counts cached objects dropped because they were deleted remotely.
	Discarded int
	// Conflicts lists objects whose local edits collided with the incoming
	// change set, sorted.
	Conflicts []string
}
