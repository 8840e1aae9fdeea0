package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productSchema = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"sku":   {"type": "string", "_unique": true, "_label_source": 2},
		"name":  {"type": "string", "_label_source": true, "_searchable": ["en", "sk"]},
		"price": {"type": "number", "minimum": 0},
		"body":  {"type": "string", "_searchable": true, "_searchable_filters": ["strip_html", "lowercase"], "x-widget": "editor"}
	}
}`

func TestTypeSchema_UnmarshalKeepsDeclarationOrder(t *testing.T) {
	var ts TypeSchema
	require.NoError(t, json.Unmarshal([]byte(productSchema), &ts))

	assert.Equal(t, []string{"sku", "name", "price", "body"}, ts.Properties.Keys())
	assert.Equal(t, []string{"name"}, ts.Required)
}

func TestPropertyDefinition_CustomKeywords(t *testing.T) {
	var ts TypeSchema
	require.NoError(t, json.Unmarshal([]byte(productSchema), &ts))

	sku, ok := ts.Properties.Get("sku")
	require.True(t, ok)
	assert.True(t, sku.Unique)
	assert.Equal(t, LabelPriority(2), sku.LabelSource)

	name, _ := ts.Properties.Get("name")
	assert.Equal(t, LabelPriority(1), name.LabelSource, "true means priority 1")
	require.NotNil(t, name.Searchable)
	assert.True(t, name.Searchable.Enabled)
	assert.Equal(t, []string{"en", "sk"}, name.Searchable.Locales)

	body, _ := ts.Properties.Get("body")
	assert.Equal(t, []string{"strip_html", "lowercase"}, body.SearchableFilters)
	assert.Equal(t, "editor", body.Extra["x-widget"])

	price, _ := ts.Properties.Get("price")
	require.NotNil(t, price.Minimum)
	assert.Equal(t, 0.0, *price.Minimum)
	assert.Nil(t, price.Searchable)
}

func TestTypeSchema_MarshalRoundTripPreservesOrderAndExtras(t *testing.T) {
	var ts TypeSchema
	require.NoError(t, json.Unmarshal([]byte(productSchema), &ts))

	out, err := json.Marshal(ts)
	require.NoError(t, err)

	var again TypeSchema
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, ts.Properties.Keys(), again.Properties.Keys())

	body, _ := again.Properties.Get("body")
	assert.Equal(t, "editor", body.Extra["x-widget"])
}

func TestTypeSet_AcceptsStringOrList(t *testing.T) {
	var p PropertyDefinition
	require.NoError(t, json.Unmarshal([]byte(`{"type": ["string", "null"]}`), &p))
	assert.True(t, p.Type.Has("null"))
	assert.False(t, p.Type.Has("number"))

	require.NoError(t, json.Unmarshal([]byte(`{"type": "integer"}`), &p))
	assert.Equal(t, TypeSet{"integer"}, p.Type)

	assert.True(t, TypeSet(nil).Has("anything"))
}

func TestLabelPriority_FalseDisables(t *testing.T) {
	var p PropertyDefinition
	require.NoError(t, json.Unmarshal([]byte(`{"_label_source": false}`), &p))
	assert.Equal(t, LabelPriority(0), p.LabelSource)
}

func TestLabelSources_FractionalPriorities(t *testing.T) {
	var types Types
	require.NoError(t, json.Unmarshal([]byte(`{
		"item": {"properties": {
			"name":  {"type": "string", "_label_source": 1.5},
			"code":  {"type": "string", "_label_source": 1},
			"alias": {"type": "string", "_label_source": 0.5},
			"title": {"type": "string", "_label_source": 1},
			"note":  {"type": "string", "_label_source": 0},
			"flag":  {"type": "string", "_label_source": false}
		}}
	}`), &types))

	r, err := ResolveType(types, "item")
	require.NoError(t, err)

	var fields []string
	for _, ls := range r.LabelSources() {
		fields = append(fields, ls.Field)
	}
	assert.Equal(t, []string{"alias", "code", "title", "name"}, fields, "ties keep declaration order")
	assert.Equal(t, 0.5, r.LabelSources()[0].Priority)
}

func TestProperties_SetKeepsPosition(t *testing.T) {
	p := NewProperties(
		Property{Name: "a", Def: &PropertyDefinition{Format: "email"}},
		Property{Name: "b", Def: &PropertyDefinition{}},
	)
	p.Set("a", &PropertyDefinition{Format: "uri"})

	assert.Equal(t, []string{"a", "b"}, p.Keys())
	a, _ := p.Get("a")
	assert.Equal(t, "uri", a.Format)
}
