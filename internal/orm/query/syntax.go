package query

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// DefaultLimit applies when a query sets no limit
	DefaultLimit = 100
	// MaxLimit caps any requested limit
	MaxLimit = 1000
)

// Condition is a single {field, operator, value} predicate.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Cond builds a Condition.
func Cond(field string, op Operator, value any) Condition {
	return Condition{Field: field, Operator: op, Value: value}
}

// UnmarshalJSON validates the operator.
func (c *Condition) UnmarshalJSON(b []byte) error {
	var raw struct {
		Field    string `json:"field"`
		Operator string `json:"operator"`
		Value    any    `json:"value"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw.Field == "" {
		return fmt.Errorf("condition field is required")
	}
	if raw.Operator == "" {
		raw.Operator = string(OpEq)
	}
	op, err := ParseOperator(raw.Operator)
	if err != nil {
		return err
	}
	*c = Condition{Field: raw.Field, Operator: op, Value: raw.Value}
	return nil
}

// Group combines conditions and nested groups with AND, or with OR when Or is set.
type Group struct {
	Or         bool        `json:"or,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Groups     []*Group    `json:"groups,omitempty"`
}

// And builds an AND group.
func And(conds ...Condition) *Group {
	return &Group{Conditions: conds}
}

// Or builds an OR group.
func Or(conds ...Condition) *Group {
	return &Group{Or: true, Conditions: conds}
}

// Add appends a condition.
func (g *Group) Add(c Condition) *Group {
	g.Conditions = append(g.Conditions, c)
	return g
}

// AddGroup appends a nested group.
func (g *Group) AddGroup(sub *Group) *Group {
	if sub != nil {
		g.Groups = append(g.Groups, sub)
	}
	return g
}

// IsEmpty reports whether the group constrains nothing.
func (g *Group) IsEmpty() bool {
	if g == nil {
		return true
	}
	if len(g.Conditions) > 0 {
		return false
	}
	for _, sub := range g.Groups {
		if !sub.IsEmpty() {
			return false
		}
	}
	return true
}

// Where is the "where" member of the wire syntax: a condition, a list of
// conditions (AND), or an explicit group.
type Where struct {
	Group
}

// UnmarshalJSON accepts all three shapes.
func (w *Where) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*w = Where{}
		return nil
	case len(b) > 0 && b[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		var g Group
		for _, item := range items {
			var sub Where
			if err := sub.UnmarshalJSON(item); err != nil {
				return err
			}
			if len(sub.Groups) == 0 && !sub.Or && len(sub.Conditions) == 1 {
				g.Conditions = append(g.Conditions, sub.Conditions[0])
			} else {
				g.Groups = append(g.Groups, &sub.Group)
			}
		}
		w.Group = g
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("where must be a condition, a list or a group: %w", err)
	}
	if _, isCond := fields["field"]; isCond {
		var c Condition
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		w.Group = Group{Conditions: []Condition{c}}
		return nil
	}
	for k := range fields {
		if k != "or" && k != "conditions" && k != "groups" {
			return fmt.Errorf("unexpected key %q in where group", k)
		}
	}
	var g struct {
		Or         bool              `json:"or"`
		Conditions []Condition       `json:"conditions"`
		Groups     []json.RawMessage `json:"groups"`
	}
	if err := json.Unmarshal(b, &g); err != nil {
		return err
	}
	w.Group = Group{Or: g.Or, Conditions: g.Conditions}
	for _, raw := range g.Groups {
		var sub Where
		if err := sub.UnmarshalJSON(raw); err != nil {
			return err
		}
		w.Groups = append(w.Groups, &sub.Group)
	}
	return nil
}

// MarshalJSON writes the group form.
func (w Where) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Group)
}

// Syntax is the wire format of a list query.
type Syntax struct {
	Where  Where  `json:"where"`
	Search string `json:"search,omitempty"`
	Order  string `json:"order,omitempty"`
	Asc    *bool  `json:"asc,omitempty"`
	Limit  *int   `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ParseSyntax decodes the JSON form, e.g. from a ?q= parameter.
func ParseSyntax(b []byte) (*Syntax, error) {
	var s Syntax
	if len(bytes.TrimSpace(b)) == 0 {
		return &s, nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	return &s, nil
}

// Filter returns the where group.
func (s *Syntax) Filter() *Group {
	if s == nil {
		return nil
	}
	return &s.Where.Group
}

// Ascending defaults to true.
func (s *Syntax) Ascending() bool {
	return s == nil || s.Asc == nil || *s.Asc
}

// Window returns the effective limit and offset.
func (s *Syntax) Window() (limit, offset int) {
	limit = DefaultLimit
	if s == nil {
		return limit, 0
	}
	if s.Limit != nil && *s.Limit > 0 {
		limit = *s.Limit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset = s.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
