// Package tracking computes field-level differences between two versions of
// a record. The store uses it to report what an update changed and to decide
// which derived columns need recomputing.
package tracking

import (
	"reflect"
	"sort"
)

// FieldChange represents a change to a single field
type FieldChange struct {
	Field    string
	OldValue any
	NewValue any
}

// ChangeTracker holds the changes between an original and a current record.
// Nested fields named in expand are compared key by key and reported as
// "field.key".
type ChangeTracker struct {
	changes map[string]*FieldChange
}

// NewChangeTracker diffs original against current. Keys in skip are ignored.
func NewChangeTracker(original, current map[string]any, expand []string, skip ...string) *ChangeTracker {
	ct := &ChangeTracker{changes: make(map[string]*FieldChange)}
	ignored := make(map[string]bool, len(skip))
	for _, k := range skip {
		ignored[k] = true
	}
	nested := make(map[string]bool, len(expand))
	for _, k := range expand {
		nested[k] = true
	}

	for _, field := range unionKeys(original, current) {
		if ignored[field] {
			continue
		}
		oldValue, newValue := original[field], current[field]
		if nested[field] {
			om, _ := oldValue.(map[string]any)
			nm, _ := newValue.(map[string]any)
			for _, k := range unionKeys(om, nm) {
				ct.record(field+"."+k, om[k], nm[k])
			}
			continue
		}
		ct.record(field, oldValue, newValue)
	}
	return ct
}

func (ct *ChangeTracker) record(field string, oldValue, newValue any) {
	if deepEqual(oldValue, newValue) {
		return
	}
	ct.changes[field] = &FieldChange{Field: field, OldValue: oldValue, NewValue: newValue}
}

func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var keys []string
	for _, m := range []map[string]any{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// deepEqual treats a missing value and nil alike.
func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

// Changed reports whether field, or any nested key of it, changed.
func (ct *ChangeTracker) Changed(field string) bool {
	if _, ok := ct.changes[field]; ok {
		return true
	}
	prefix := field + "."
	for k := range ct.changes {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// ChangedFields returns the changed field names, sorted.
func (ct *ChangeTracker) ChangedFields() []string {
	fields := make([]string, 0, len(ct.changes))
	for field := range ct.changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// GetChange returns the FieldChange for a specific field, or nil if unchanged
func (ct *ChangeTracker) GetChange(field string) *FieldChange {
	return ct.changes[field]
}

// HasChanges returns true if any fields have changed
func (ct *ChangeTracker) HasChanges() bool {
	return len(ct.changes) > 0
}

// ChangedTo returns true if the field changed to the specified value
func (ct *ChangeTracker) ChangedTo(field string, value any) bool {
	change, ok := ct.changes[field]
	return ok && deepEqual(change.NewValue, value)
}

// ChangedFrom returns true if the field changed from the specified value
func (ct *ChangeTracker) ChangedFrom(field string, value any) bool {
	change, ok := ct.changes[field]
	return ok && deepEqual(change.OldValue, value)
}

// GetChangedData returns the new values of the changed fields
func (ct *ChangeTracker) GetChangedData() map[string]any {
	result := make(map[string]any, len(ct.changes))
	for field, change := range ct.changes {
		result[field] = change.NewValue
	}
	return result
}
