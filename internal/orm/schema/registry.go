package schema

import (
	"errors"
	"sync"

	"github.com/conduit-lang/collections/internal/orm/errs"
)

// Registry caches resolved schemas per (collection, type). Entries are
// tagged with the collection's version stamp (its _updated_at) so a stale
// entry is re-resolved even when another process changed the schemas.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*collectionEntry
}

type collectionEntry struct {
	stamp string
	types map[string]typeEntry
}

// typeEntry holds either a resolved schema or the error that poisons it.
type typeEntry struct {
	resolved *Resolved
	err      error
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*collectionEntry)}
}

// Load resolves every type of a collection and stores the results under
// stamp. Types caught in or extending into a cycle are poisoned: every Get
// for them fails with the SchemaCycleError until the collection is reloaded.
func (r *Registry) Load(collection, stamp string, types Types) {
	graph := NewExtendsGraph(types)
	entry := &collectionEntry{stamp: stamp, types: make(map[string]typeEntry, len(types))}
	for name := range types {
		res, err := resolveWith(graph, types, name)
		entry.types[name] = typeEntry{resolved: res, err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[collection] = entry
}

// Get returns the resolved schema for (collection, typ) if it is cached.
func (r *Registry) Get(collection, typ string) (*Resolved, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.collections[collection]
	if !ok {
		return nil, false, nil
	}
	te, ok := entry.types[typ]
	if !ok {
		return nil, true, errs.NotFound("schema type", typ)
	}
	return te.resolved, true, te.err
}

// Lookup returns the resolved schema for typ, loading the collection's types
// first when nothing is cached for it or the cached stamp differs.
func (r *Registry) Lookup(collection, stamp string, types Types, typ string) (*Resolved, error) {
	r.mu.RLock()
	entry, ok := r.collections[collection]
	fresh := ok && entry.stamp == stamp
	r.mu.RUnlock()

	if !fresh {
		r.Load(collection, stamp, types)
	}
	res, _, err := r.Get(collection, typ)
	return res, err
}

// Invalidate drops everything cached for a collection.
func (r *Registry) Invalidate(collection string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.collections, collection)
}

// Clear removes all cached schemas (useful for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.collections = make(map[string]*collectionEntry)
}

// Count returns the number of cached collections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.collections)
}

// Poisoned lists the types of a collection whose schema cannot be used.
func (r *Registry) Poisoned(collection string) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := map[string]error{}
	if entry, ok := r.collections[collection]; ok {
		for name, te := range entry.types {
			var cycle *errs.SchemaCycleError
			if errors.As(te.err, &cycle) {
				out[name] = te.err
			}
		}
	}
	return out
}
