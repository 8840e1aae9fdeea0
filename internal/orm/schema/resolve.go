package schema

import (
	"fmt"
	"sort"

	"github.com/conduit-lang/collections/internal/orm/errs"
)

// Resolved is a type schema with its __extends chain flattened.
type Resolved struct {
	Type  string
	Chain []string // root ancestor first, Type last

	Properties           Properties
	Required             []string
	AdditionalProperties *bool
	Searchable           bool
}

// Property returns a flattened property by name.
func (r *Resolved) Property(name string) (*PropertyDefinition, bool) {
	return r.Properties.Get(name)
}

// ExtendsGraph is the name-reference graph formed by __extends.
type ExtendsGraph struct {
	parent map[string]string
}

// NewExtendsGraph builds the graph for a set of type schemas.
func NewExtendsGraph(types Types) *ExtendsGraph {
	g := &ExtendsGraph{parent: make(map[string]string, len(types))}
	for name, ts := range types {
		if ts != nil && ts.Extends != "" {
			g.parent[name] = ts.Extends
		}
	}
	return g
}

// DetectCycles returns every cycle in the graph, each listed from the first
// type reached to the repeated type.
func (g *ExtendsGraph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)

	names := make([]string, 0, len(g.parent))
	for name := range g.parent {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, start := range names {
		if visited[start] {
			continue
		}
		onStack := make(map[string]int)
		var path []string
		node := start
		for {
			if idx, ok := onStack[node]; ok {
				cycle := append([]string(nil), path[idx:]...)
				cycles = append(cycles, append(cycle, node))
				break
			}
			if visited[node] {
				break
			}
			onStack[node] = len(path)
			path = append(path, node)
			next, ok := g.parent[node]
			if !ok {
				break
			}
			node = next
		}
		for _, n := range path {
			visited[n] = true
		}
	}
	return cycles
}

// Chain returns the ancestors of name, root first and name last, or a
// SchemaCycleError.
func (g *ExtendsGraph) Chain(name string) ([]string, error) {
	seen := map[string]bool{}
	var rev []string
	for node := name; node != ""; node = g.parent[node] {
		if seen[node] {
			return nil, &errs.SchemaCycleError{Chain: append(append([]string(nil), rev...), node)}
		}
		seen[node] = true
		rev = append(rev, node)
	}
	return reverse(rev), nil
}

func reverse(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}

// Resolve flattens every type in types. The first error aborts; callers that
// need per-type results use ResolveType.
func Resolve(types Types) (map[string]*Resolved, error) {
	graph := NewExtendsGraph(types)
	if cycles := graph.DetectCycles(); len(cycles) > 0 {
		return nil, &errs.SchemaCycleError{Chain: cycles[0]}
	}
	out := make(map[string]*Resolved, len(types))
	for name := range types {
		r, err := resolveWith(graph, types, name)
		if err != nil {
			return nil, err
		}
		out[name] = r
	}
	return out, nil
}

// ResolveType flattens a single type.
func ResolveType(types Types, name string) (*Resolved, error) {
	return resolveWith(NewExtendsGraph(types), types, name)
}

func resolveWith(graph *ExtendsGraph, types Types, name string) (*Resolved, error) {
	if _, ok := types[name]; !ok {
		return nil, errs.NotFound("schema type", name)
	}
	chain, err := graph.Chain(name)
	if err != nil {
		return nil, err
	}

	r := &Resolved{Type: name, Chain: chain}
	required := map[string]bool{}
	for _, typeName := range chain {
		ts, ok := types[typeName]
		if !ok || ts == nil {
			return nil, fmt.Errorf("%w: type %q extends unknown type %q", errs.ErrInvalidInput, name, typeName)
		}
		ts.Properties.Each(func(prop string, def *PropertyDefinition) {
			r.Properties.Set(prop, def)
		})
		for _, req := range ts.Required {
			if !required[req] {
				required[req] = true
				r.Required = append(r.Required, req)
			}
		}
		if ts.AdditionalProperties != nil {
			r.AdditionalProperties = ts.AdditionalProperties
		}
		if ts.Searchable != nil {
			r.Searchable = *ts.Searchable
		}
	}
	return r, nil
}
