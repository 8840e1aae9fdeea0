package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeTracker(t *testing.T) {
	original := map[string]any{
		"type":        "page",
		"folder":      nil,
		"data":        map[string]any{"title": "A", "body": "x"},
		"_updated_at": "t1",
	}
	current := map[string]any{
		"type":        "page",
		"folder":      "drafts",
		"data":        map[string]any{"title": "B", "extra": true},
		"_updated_at": "t2",
	}

	ct := NewChangeTracker(original, current, []string{"data"}, "_updated_at")

	assert.True(t, ct.HasChanges())
	assert.Equal(t, []string{"data.body", "data.extra", "data.title", "folder"}, ct.ChangedFields())
	assert.True(t, ct.Changed("data"))
	assert.True(t, ct.Changed("data.title"))
	assert.False(t, ct.Changed("type"))
	assert.False(t, ct.Changed("_updated_at"))
	assert.True(t, ct.ChangedTo("folder", "drafts"))
	assert.True(t, ct.ChangedFrom("data.title", "A"))
	assert.False(t, ct.ChangedFrom("data.title", "B"))
	assert.Nil(t, ct.GetChange("type"))
	assert.Equal(t, map[string]any{"data.body": nil, "data.extra": true, "data.title": "B", "folder": "drafts"}, ct.GetChangedData())
}

func TestChangeTracker_NilEqualsMissing(t *testing.T) {
	ct := NewChangeTracker(map[string]any{"parent_id": nil}, map[string]any{}, nil)
	assert.False(t, ct.HasChanges())
	assert.Empty(t, ct.ChangedFields())
}

func TestChangeTracker_WholeValueWhenNotExpanded(t *testing.T) {
	ct := NewChangeTracker(
		map[string]any{"tags": []any{"a"}},
		map[string]any{"tags": []any{"a", "b"}},
		nil)
	assert.Equal(t, []string{"tags"}, ct.ChangedFields())
	assert.Equal(t, []any{"a"}, ct.GetChange("tags").OldValue)
}
