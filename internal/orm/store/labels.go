package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/hierarchy"
	"github.com/conduit-lang/collections/internal/orm/schema"
)

// computeLabel takes the first label source, by priority, that holds a
// non-empty value.
func computeLabel(resolved *schema.Resolved, data entity.Doc) *entity.Label {
	for _, src := range resolved.LabelSources() {
		v, ok := data[src.Field]
		if !ok || v == nil {
			continue
		}
		if l, ok := entity.LabelFrom(v); ok && l.String() != "" {
			return &l
		}
	}
	return nil
}

func hierarchyLabel(parent *string, own *entity.Label) *string {
	if own == nil || own.String() == "" {
		return nil
	}
	hl := hierarchy.Label(parent, own.String())
	return &hl
}

// searchProjection builds __searchable (per field, filtered) and
// __searchable2 (one lowercase haystack including the label).
func searchProjection(resolved *schema.Resolved, data entity.Doc, label *entity.Label) (map[string]any, string) {
	var parts []string
	if label != nil {
		parts = append(parts, labelTexts(*label)...)
	}

	var index map[string]any
	for _, f := range resolved.SearchableFields() {
		v, ok := data[f.Field]
		if !ok || v == nil {
			continue
		}
		projected, texts := searchValue(v, f)
		if len(texts) == 0 {
			continue
		}
		if index == nil {
			index = map[string]any{}
		}
		index[f.Field] = projected
		parts = append(parts, texts...)
	}
	return index, strings.ToLower(strings.Join(parts, " "))
}

func searchValue(v any, f schema.SearchField) (any, []string) {
	switch t := v.(type) {
	case string:
		s := applyFilters(t, f.Filters)
		if s == "" {
			return nil, nil
		}
		return s, []string{s}
	case json.Number, float64, int, int64, bool:
		s := fmt.Sprint(t)
		return s, []string{s}
	case map[string]any:
		allowed := make(map[string]bool, len(f.Locales))
		for _, l := range f.Locales {
			allowed[l] = true
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := map[string]any{}
		var texts []string
		for _, k := range keys {
			str, ok := t[k].(string)
			if !ok || (len(allowed) > 0 && !allowed[k]) {
				continue
			}
			if str = applyFilters(str, f.Filters); str != "" {
				out[k] = str
				texts = append(texts, str)
			}
		}
		return out, texts
	case []any:
		var texts []string
		for _, e := range t {
			if _, nested := searchValue(e, f); len(nested) > 0 {
				texts = append(texts, nested...)
			}
		}
		return strings.Join(texts, " "), texts
	}
	return nil, nil
}

func applyFilters(s string, filters []string) string {
	for _, name := range filters {
		if fn, ok := schema.SearchFilters[name]; ok {
			s = fn(s)
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

func labelTexts(l entity.Label) []string {
	if !l.IsLocalized() {
		if l.Text == "" {
			return nil
		}
		return []string{l.Text}
	}
	keys := make([]string, 0, len(l.Locales))
	for k := range l.Locales {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []string
	for _, k := range keys {
		if l.Locales[k] != "" {
			out = append(out, l.Locales[k])
		}
	}
	return out
}
