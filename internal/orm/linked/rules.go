package linked

import (
	"sort"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/query"
)

// ModelContext is the source side of a rule evaluation.
type ModelContext struct {
	ProjectID entity.UUID
	Domain    string
	Entity    string
	Type      string
	Model     *entity.Model
}

// ContextFor derives the context of m from its collection path: the first
// label is the domain, the last one the entity.
func ContextFor(c *entity.Collection, m *entity.Model) ModelContext {
	labels := c.Path.Labels()
	mc := ModelContext{ProjectID: c.ProjectID, Type: m.Type, Model: m}
	if len(labels) > 0 {
		mc.Domain = labels[0]
		mc.Entity = labels[len(labels)-1]
	}
	return mc
}

// MatchingRules returns the enabled rules that apply to mc, ordered by
// Order and then by declaration.
func (c *Config) MatchingRules(mc ModelContext) []*Rule {
	var out []*Rule
	for i := range c.Rules {
		r := &c.Rules[i]
		if r.IsEnabled() && r.Match.Matches(mc) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// BuildQuery compiles the target query of r for a source model. It has no
// side effects. A model_field condition whose source value is missing
// becomes a predicate that matches nothing.
func BuildQuery(r *Rule, source *entity.Model) *query.Group {
	g := query.And()
	for _, c := range r.TargetQuery.Base() {
		g.Add(resolveCondition(c, source))
	}
	if r.TargetQuery.Type != "" {
		g.Add(query.Cond("type", query.OpEq, r.TargetQuery.Type))
	}
	for _, c := range r.TargetQuery.Conditions {
		g.Add(resolveCondition(c, source))
	}
	return g
}

func resolveCondition(c Condition, source *entity.Model) query.Condition {
	op, err := query.ParseOperator(string(c.Operator))
	if err != nil || op == "" {
		op = query.OpEq
	}
	if c.ValueSource != ModelField {
		return query.Cond(c.TargetField, op, c.Value)
	}
	path, _ := c.Value.(string)
	var data map[string]any
	if source != nil {
		data = source.Data
	}
	v, ok := entity.Lookup(data, path)
	if !ok || v == nil {
		return never(c.TargetField)
	}
	return query.Cond(c.TargetField, op, v)
}

// never is an empty set membership, which compiles to FALSE.
func never(field string) query.Condition {
	return query.Cond(field, query.OpIn, []any{})
}
