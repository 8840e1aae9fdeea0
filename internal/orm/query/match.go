package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
)

// Record converts an entity into the map form Matches evaluates.
func Record(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Matches evaluates g against a record in memory with the same semantics
// the compiled SQL has.
func Matches(fields *FieldSet, g *Group, record map[string]any) (bool, error) {
	if g.IsEmpty() {
		return true, nil
	}
	for _, cond := range g.Conditions {
		ok, err := matchCondition(fields, cond, record)
		if err != nil {
			return false, err
		}
		if g.Or && ok {
			return true, nil
		}
		if !g.Or && !ok {
			return false, nil
		}
	}
	for _, sub := range g.Groups {
		if sub.IsEmpty() {
			continue
		}
		ok, err := Matches(fields, sub, record)
		if err != nil {
			return false, err
		}
		if g.Or && ok {
			return true, nil
		}
		if !g.Or && !ok {
			return false, nil
		}
	}
	return !g.Or, nil
}

func matchCondition(fields *FieldSet, cond Condition, record map[string]any) (bool, error) {
	f, err := fields.Resolve(cond.Field)
	if err != nil {
		return false, errs.Invalid("%v", err)
	}
	var val any
	var present bool
	if f.IsDocument() {
		val, present = entity.Lookup(record, f.Column.Name+"."+strings.Join(f.Path, "."))
	} else {
		val, present = record[cond.Field]
		if l, ok := val.(map[string]any); ok && cond.Field == "_label" {
			label, _ := entity.LabelFrom(l)
			val = label.String()
		}
	}
	if !present {
		val = nil
	}

	op := cond.Operator
	if op == "" {
		op = OpEq
	}
	ok, err := evaluate(f, op.positive(), val, cond.Value)
	if err != nil {
		return false, errs.Invalid("field %q: %v", cond.Field, err)
	}
	if op.Negated() {
		return !ok, nil
	}
	return ok, nil
}

func evaluate(f Field, op Operator, have, want any) (bool, error) {
	switch op {
	case OpIs:
		switch want {
		case nil, "null":
			return have == nil, nil
		case true, "true":
			return have == true, nil
		case false, "false":
			return have == false, nil
		}
		return false, fmt.Errorf("is/nis only accept null, true or false")
	case OpIn:
		for _, item := range listValue(want) {
			if f.Column.Kind == KindJSONArray && !f.IsDocument() {
				if contains(have, item) {
					return true, nil
				}
				continue
			}
			if cmp, ok := compareValues(f, have, item); ok && cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	}
	if have == nil {
		return false, nil
	}

	switch op {
	case OpEq, OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compareValues(f, have, want)
		if !ok {
			return false, nil
		}
		switch op {
		case OpEq:
			return cmp == 0, nil
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		}
		return cmp <= 0, nil
	case OpLike, OpIlike:
		re, err := likeRegexp(LikePattern(textValue(want)))
		if err != nil {
			return false, err
		}
		return re.MatchString(textValue(have)), nil
	case OpMatch:
		re, err := regexp.Compile(textValue(want))
		if err != nil {
			return false, err
		}
		return re.MatchString(textValue(have)), nil
	case OpLtree:
		return MatchLquery(textValue(want), textValue(have))
	case OpAncestor:
		p := entity.Path(textValue(have))
		target := entity.Path(textValue(want))
		return p == target || p.IsAncestorOf(target), nil
	case OpDescendant:
		if !f.IsDocument() && f.Column.Kind == KindText {
			folder := strings.TrimSuffix(textValue(want), "/")
			if folder == "" {
				return false, fmt.Errorf("descendant needs a folder")
			}
			have := textValue(have)
			return have == folder || strings.HasPrefix(have, folder+"/"), nil
		}
		p := entity.Path(textValue(have))
		target := entity.Path(textValue(want))
		return p == target || p.IsDescendantOf(target), nil
	case OpContains:
		return contains(have, want), nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func contains(list, item any) bool {
	l, ok := list.([]any)
	if !ok {
		return false
	}
	want := textValue(item)
	for _, v := range l {
		if s, ok := v.(string); ok && s == want {
			return true
		}
	}
	return false
}

// compareValues orders have against want; ok is false when the two are
// not comparable, which SQL would evaluate to NULL.
func compareValues(f Field, have, want any) (int, bool) {
	if !f.IsDocument() && f.Column.Kind == KindTime {
		a, err1 := entity.ParseTimestamp(textValue(have))
		b, err2 := entity.ParseTimestamp(textValue(want))
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return a.Time().Compare(b.Time()), true
	}
	if a, ok := numberValue(have); ok {
		b, ok := numberValue(want)
		if !ok {
			return 0, false
		}
		x, y := toFloat(a), toFloat(b)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if a, ok := have.(bool); ok {
		b, ok := want.(bool)
		if !ok {
			return 0, false
		}
		if a == b {
			return 0, true
		}
		if !a {
			return -1, true
		}
		return 1, true
	}
	a, ok := have.(string)
	if !ok {
		return 0, false
	}
	if _, isNum := numberValue(want); isNum && f.IsDocument() {
		return 0, false
	}
	return strings.Compare(a, textValue(want)), true
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

// likeRegexp converts a LIKE pattern with backslash escapes into a
// case-insensitive regular expression.
func likeRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?is)^")
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '\\':
			if i+1 < len(pattern) {
				i++
				b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			}
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
