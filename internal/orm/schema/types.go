// Package schema models the per-type property schemas of a collection: a
// JSON-Schema subset extended with keywords that drive labels, uniqueness and
// search indexing, plus single-parent inheritance through "__extends".
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Types maps a model type name to its schema.
type Types map[string]*TypeSchema

// TypeSchema is the object schema declared for one model type.
type TypeSchema struct {
	Extends              string     `json:"__extends,omitempty"`
	Type                 string     `json:"type,omitempty"`
	Required             []string   `json:"required,omitempty"`
	Properties           Properties `json:"properties"`
	AdditionalProperties *bool      `json:"additionalProperties,omitempty"`
	Title                any        `json:"_title,omitempty"`
	Description          any        `json:"_description,omitempty"`
	Searchable           *bool      `json:"_searchable,omitempty"`
	// ExtraFormFields are form-only inputs, never persisted nor validated.
	ExtraFormFields *Properties `json:"_extra_form_fields,omitempty"`

	Extra map[string]any `json:"-"`
}

// PropertyDefinition is one property of a type schema.
type PropertyDefinition struct {
	Type        TypeSet             `json:"type,omitempty"`
	Format      string              `json:"format,omitempty"`
	Enum        []any               `json:"enum,omitempty"`
	Items       *PropertyDefinition `json:"items,omitempty"`
	Properties  *Properties         `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
	Minimum     *float64            `json:"minimum,omitempty"`
	Maximum     *float64            `json:"maximum,omitempty"`
	MinLength   *int                `json:"minLength,omitempty"`
	MaxLength   *int                `json:"maxLength,omitempty"`
	MinItems    *int                `json:"minItems,omitempty"`
	MaxItems    *int                `json:"maxItems,omitempty"`
	Pattern     string              `json:"pattern,omitempty"`
	Default     any                 `json:"default,omitempty"`
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`

	XDefault                       any             `json:"_default,omitempty"`
	HTML                           json.RawMessage `json:"_html,omitempty"`
	XTitle                         any             `json:"_title,omitempty"`
	XDescription                   any             `json:"_description,omitempty"`
	LabelSource                    LabelPriority   `json:"_label_source,omitempty"`
	LabelSourceAllowBuildHierarchy bool            `json:"_label_source_allow_build_hierarchy,omitempty"`
	Unique                         bool            `json:"_unique,omitempty"`
	Searchable                     *Searchable     `json:"_searchable,omitempty"`
	SearchableFilters              []string        `json:"_searchable_filters,omitempty"`
	Order                          *float64        `json:"_order,omitempty"`

	Extra map[string]any `json:"-"`
}

// DefaultValue returns _default, falling back to the standard default keyword.
func (p *PropertyDefinition) DefaultValue() (any, bool) {
	if p.XDefault != nil {
		return p.XDefault, true
	}
	if p.Default != nil {
		return p.Default, true
	}
	return nil, false
}

// TypeSet is the JSON-Schema "type" keyword, a single name or a list.
type TypeSet []string

// Has reports whether t is allowed. An empty set allows anything.
func (s TypeSet) Has(t string) bool {
	if len(s) == 0 {
		return true
	}
	for _, x := range s {
		if x == t {
			return true
		}
	}
	return false
}

func (s TypeSet) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

func (s *TypeSet) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = TypeSet{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("type must be a string or a list of strings")
	}
	*s = many
	return nil
}

// LabelPriority is the _label_source keyword: zero or less means the
// property is not a label source, otherwise lower values win. "true" is
// priority 1. Fractions order between the integers.
type LabelPriority float64

func (l LabelPriority) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(l))
}

func (l *LabelPriority) UnmarshalJSON(b []byte) error {
	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		if flag {
			*l = 1
		} else {
			*l = 0
		}
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("_label_source must be a number or boolean")
	}
	if n < 0 {
		n = 0
	}
	*l = LabelPriority(n)
	return nil
}

// Searchable is the _searchable keyword: true, or a list of locales to index
// for localized values.
type Searchable struct {
	Enabled bool
	Locales []string
}

func (s Searchable) MarshalJSON() ([]byte, error) {
	if len(s.Locales) > 0 {
		return json.Marshal(s.Locales)
	}
	return json.Marshal(s.Enabled)
}

func (s *Searchable) UnmarshalJSON(b []byte) error {
	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		*s = Searchable{Enabled: flag}
		return nil
	}
	var locales []string
	if err := json.Unmarshal(b, &locales); err != nil {
		return fmt.Errorf("_searchable must be a boolean or a list of locales")
	}
	*s = Searchable{Enabled: len(locales) > 0, Locales: locales}
	return nil
}

// Properties is an insertion-ordered property map. Declaration order matters
// for label tie-breaking and for form rendering.
type Properties struct {
	keys []string
	defs map[string]*PropertyDefinition
}

// NewProperties builds a property set from alternating name/definition pairs
// given as a slice of Property, keeping their order.
func NewProperties(props ...Property) Properties {
	var p Properties
	for _, prop := range props {
		p.Set(prop.Name, prop.Def)
	}
	return p
}

// Property pairs a name with its definition.
type Property struct {
	Name string
	Def  *PropertyDefinition
}

// Len returns the number of properties.
func (p Properties) Len() int { return len(p.keys) }

// Keys returns the property names in declaration order.
func (p Properties) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Get returns the definition for name.
func (p Properties) Get(name string) (*PropertyDefinition, bool) {
	d, ok := p.defs[name]
	return d, ok
}

// Set adds or replaces a property. A replaced property keeps its position.
func (p *Properties) Set(name string, def *PropertyDefinition) {
	if p.defs == nil {
		p.defs = make(map[string]*PropertyDefinition)
	}
	if _, exists := p.defs[name]; !exists {
		p.keys = append(p.keys, name)
	}
	p.defs[name] = def
}

// Each visits properties in order.
func (p Properties) Each(fn func(name string, def *PropertyDefinition)) {
	for _, k := range p.keys {
		fn(k, p.defs[k])
	}
}

func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(p.defs[k])
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Properties) UnmarshalJSON(b []byte) error {
	*p = Properties{}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string)
		var def PropertyDefinition
		if err := dec.Decode(&def); err != nil {
			return fmt.Errorf("property %s: %w", name, err)
		}
		p.Set(name, &def)
	}
	_, err = dec.Token()
	return err
}

type propertyAlias PropertyDefinition

func (p *PropertyDefinition) UnmarshalJSON(b []byte) error {
	var a propertyAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = PropertyDefinition(a)
	extra, err := extraKeys(b, reflect.TypeOf(a))
	if err != nil {
		return err
	}
	p.Extra = extra
	return nil
}

func (p PropertyDefinition) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(propertyAlias(p), p.Extra)
}

type typeSchemaAlias TypeSchema

func (t *TypeSchema) UnmarshalJSON(b []byte) error {
	var a typeSchemaAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*t = TypeSchema(a)
	extra, err := extraKeys(b, reflect.TypeOf(a))
	if err != nil {
		return err
	}
	t.Extra = extra
	return nil
}

func (t TypeSchema) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(typeSchemaAlias(t), t.Extra)
}

var knownKeyCache sync.Map // reflect.Type -> map[string]bool

func knownKeys(t reflect.Type) map[string]bool {
	if v, ok := knownKeyCache.Load(t); ok {
		return v.(map[string]bool)
	}
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	knownKeyCache.Store(t, keys)
	return keys
}

// extraKeys returns the members of the object b that are not struct fields.
func extraKeys(b []byte, t reflect.Type) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	known := knownKeys(t)
	var extra map[string]any
	for k, v := range raw {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra, nil
}

func marshalWithExtra(v any, extra map[string]any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	eb, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}
	// splice the two objects: {a...} + {b...}
	if len(b) == 2 {
		return eb, nil
	}
	out := make([]byte, 0, len(b)+len(eb))
	out = append(out, b[:len(b)-1]...)
	out = append(out, ',')
	out = append(out, eb[1:]...)
	return out, nil
}
