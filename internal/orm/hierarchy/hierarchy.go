// Package hierarchy maintains the materialized paths of the model tree.
//
// Every model carries __hierarchy_path, the dot path of model id segments
// from the root of its tree, so ancestor and descendant lookups are prefix
// range scans. The optional user visible path follows the same rules when
// the parent has one.
package hierarchy

import (
	"strings"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/query"
)

// LabelSeparator joins hierarchy label segments.
const LabelSeparator = " / "

// Segment is the path label of a model id.
func Segment(id entity.UUID) string {
	return strings.ReplaceAll(string(id), "-", "")
}

// ChildPath returns the hierarchy path of id under parent (nil for a root).
func ChildPath(parent *entity.Path, id entity.UUID) entity.Path {
	if parent == nil {
		return entity.Path(Segment(id))
	}
	return parent.Child(Segment(id))
}

// ValidateUserPath checks that a model path sits strictly below its
// parent's path when the parent has one.
func ValidateUserPath(path *entity.Path, parentPath *entity.Path) error {
	if path == nil || parentPath == nil {
		return nil
	}
	if !parentPath.IsAncestorOf(*path) {
		return errs.Invalid("path %q must be below the parent path %q", *path, *parentPath)
	}
	return nil
}

// Label builds the hierarchy label of a model from its parent's.
func Label(parent *string, own string) string {
	if parent == nil || *parent == "" {
		return own
	}
	if own == "" {
		return *parent
	}
	return *parent + LabelSeparator + own
}

// SplitLabel splits "A / B / C" into its trimmed, non-empty segments.
func SplitLabel(s string) []string {
	var out []string
	for _, seg := range strings.Split(s, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Slug turns a label segment into a valid path label.
func Slug(s string) string {
	var b strings.Builder
	lastSep := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastSep = false
		default:
			if !lastSep {
				b.WriteByte('_')
				lastSep = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "_"
	}
	return out
}

// AncestorsOf matches the strict ancestors of the node at h.
func AncestorsOf(h entity.Path) *query.Group {
	var ids []any
	for _, a := range h.Ancestors() {
		if a != h {
			ids = append(ids, string(a))
		}
	}
	return query.And(query.Cond(Column, query.OpIn, ids))
}

// DescendantsOf matches the strict descendants of the node at h.
func DescendantsOf(h entity.Path) *query.Group {
	return query.And(
		query.Cond(Column, query.OpDescendant, string(h)),
		query.Cond(Column, query.OpNeq, string(h)),
	)
}

// SubtreeOf matches the node at h and its descendants.
func SubtreeOf(h entity.Path) *query.Group {
	return query.And(query.Cond(Column, query.OpDescendant, string(h)))
}

// Column is the materialized hierarchy path column.
const Column = "__hierarchy_path"
