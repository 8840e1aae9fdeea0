package entity

import (
	"strconv"
	"strings"
)

// Lookup resolves a dot-path ("custom.sku", "items.0.id") inside a JSON-like
// document. Numeric segments index into arrays.
func Lookup(doc map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes value at a dot-path, creating intermediate objects.
// Intermediate non-object values are replaced.
func SetPath(doc map[string]any, path string, value any) {
	segs := strings.Split(path, ".")
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// DeletePath removes the value at a dot-path. It reports whether a key was removed.
func DeletePath(doc map[string]any, path string) bool {
	segs := strings.Split(path, ".")
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	last := segs[len(segs)-1]
	if _, ok := cur[last]; !ok {
		return false
	}
	delete(cur, last)
	return true
}

// CloneDoc deep-copies maps and slices of a JSON-like document.
func CloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// MergeDoc returns base overlaid with top. Nested objects are merged
// recursively; every other value in top replaces the one in base.
func MergeDoc(base, top map[string]any) map[string]any {
	out := CloneDoc(base)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range top {
		if tm, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = MergeDoc(bm, tm)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}
