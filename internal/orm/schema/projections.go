package schema

import (
	"regexp"
	"sort"
	"strings"
)

// LabelSource is a property that contributes to a model's _label.
type LabelSource struct {
	Field    string
	Priority float64
	Index    int // declaration order
}

// LabelSources returns the label source properties, best first. Equal
// priorities keep declaration order.
func (r *Resolved) LabelSources() []LabelSource {
	var out []LabelSource
	i := 0
	r.Properties.Each(func(name string, def *PropertyDefinition) {
		if def.LabelSource > 0 {
			out = append(out, LabelSource{Field: name, Priority: float64(def.LabelSource), Index: i})
		}
		i++
	})
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Priority < out[b].Priority
	})
	return out
}

// HierarchyLabelField returns the label source that allows building a
// hierarchy from slash-separated labels, if any.
func (r *Resolved) HierarchyLabelField() (string, bool) {
	for _, ls := range r.LabelSources() {
		def, _ := r.Properties.Get(ls.Field)
		if def.LabelSourceAllowBuildHierarchy {
			return ls.Field, true
		}
	}
	return "", false
}

// UniqueFields returns the top-level properties marked _unique.
func (r *Resolved) UniqueFields() []string {
	var out []string
	r.Properties.Each(func(name string, def *PropertyDefinition) {
		if def.Unique {
			out = append(out, name)
		}
	})
	return out
}

// SearchField is a property indexed for full-text search.
type SearchField struct {
	Field   string
	Locales []string
	Filters []string
}

// SearchableFields returns the properties that feed the search index.
func (r *Resolved) SearchableFields() []SearchField {
	var out []SearchField
	r.Properties.Each(func(name string, def *PropertyDefinition) {
		if def.Searchable != nil && def.Searchable.Enabled {
			out = append(out, SearchField{
				Field:   name,
				Locales: def.Searchable.Locales,
				Filters: def.SearchableFilters,
			})
		}
	})
	return out
}

// OrderedKeys returns property names sorted by _order; properties without
// _order follow in declaration order.
func (r *Resolved) OrderedKeys() []string {
	keys := r.Properties.Keys()
	orderOf := func(k string) (float64, bool) {
		def, _ := r.Properties.Get(k)
		if def.Order == nil {
			return 0, false
		}
		return *def.Order, true
	}
	sort.SliceStable(keys, func(a, b int) bool {
		oa, hasA := orderOf(keys[a])
		ob, hasB := orderOf(keys[b])
		switch {
		case hasA && hasB:
			return oa < ob
		case hasA:
			return true
		}
		return false
	})
	return keys
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// SearchFilters are the transformations _searchable_filters may name.
var SearchFilters = map[string]func(string) string{
	"strip_html": func(s string) string { return htmlTag.ReplaceAllString(s, " ") },
	"trim":       strings.TrimSpace,
	"lowercase":  strings.ToLower,
}
