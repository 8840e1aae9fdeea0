// Package hooks runs lifecycle callbacks around engine writes. Synchronous
// hooks run inside the write transaction and can veto it; async hooks run
// on a worker pool after commit.
package hooks

import (
	"context"
	"database/sql"
	"sync"

	"github.com/conduit-lang/collections/internal/orm/entity"
)

// Kind identifies the write that produced an event.
type Kind int

const (
	// CollectionSaved fires after a collection is created or updated
	CollectionSaved Kind = iota
	// CollectionDeleted fires after a collection and its models are deleted
	CollectionDeleted
	// ModelSaved fires after a model is created or updated
	ModelSaved
	// ModelDeleted fires after a model subtree is deleted
	ModelDeleted
	// RelationLinked fires after an edge is created
	RelationLinked
	// RelationUnlinked fires after an edge is removed
	RelationUnlinked
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case CollectionSaved:
		return "collection.saved"
	case CollectionDeleted:
		return "collection.deleted"
	case ModelSaved:
		return "model.saved"
	case ModelDeleted:
		return "model.deleted"
	case RelationLinked:
		return "relation.linked"
	case RelationUnlinked:
		return "relation.unlinked"
	default:
		return "unknown"
	}
}

// Event describes one committed (or about to commit) write.
type Event struct {
	Kind         Kind
	ProjectID    entity.UUID
	CollectionID entity.UUID
	Collection   *entity.Collection
	Model        *entity.Model
	Relation     *entity.Relation
	// Created is set when the save inserted a new row.
	Created bool
	// Changed lists the fields an update modified.
	Changed []string
	// Deleted holds the ids removed by a delete.
	Deleted []entity.UUID
}

// HookFunc handles an event. tx is the write transaction for synchronous
// hooks and nil for async ones.
type HookFunc func(ctx context.Context, tx *sql.Tx, ev *Event) error

// Hook is a registered callback.
type Hook struct {
	Name  string
	Kind  Kind
	Fn    HookFunc
	Async bool // run after commit on the worker pool
}

// Registry holds hooks per event kind.
type Registry struct {
	mu    sync.RWMutex
	hooks map[Kind][]*Hook
}

// NewRegistry creates an empty hook registry
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[Kind][]*Hook)}
}

// Register adds a hook for kind
func (r *Registry) Register(kind Kind, hook *Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hook.Kind = kind
	r.hooks[kind] = append(r.hooks[kind], hook)
}

// GetHooks returns the hooks for kind in registration order
func (r *Registry) GetHooks(kind Kind) []*Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]*Hook(nil), r.hooks[kind]...)
}

// HasHooks reports whether anything is registered for kind
func (r *Registry) HasHooks(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.hooks[kind]) > 0
}
