package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
)

// Args collects positional parameters while a statement is rendered.
type Args struct {
	dialect adapter.Dialect
	values  []any
}

// NewArgs starts a parameter list, optionally pre-seeded.
func NewArgs(d adapter.Dialect, values ...any) *Args {
	return &Args{dialect: d, values: values}
}

// Add appends v and returns its placeholder.
func (a *Args) Add(v any) string {
	a.values = append(a.values, v)
	return a.dialect.Placeholder(len(a.values))
}

// Values returns the collected parameters.
func (a *Args) Values() []any { return a.values }

// Compiler renders query groups against one table.
type Compiler struct {
	dialect adapter.Dialect
	fields  *FieldSet
	alias   string
}

// NewCompiler returns a compiler for the table described by fields.
func NewCompiler(d adapter.Dialect, fields *FieldSet) *Compiler {
	return &Compiler{dialect: d, fields: fields}
}

// As qualifies every column with a table alias.
func (c *Compiler) As(alias string) *Compiler {
	cp := *c
	cp.alias = alias
	return &cp
}

// Column renders a qualified column reference.
func (c *Compiler) Column(name string) string {
	if c.alias == "" {
		return c.dialect.Quote(name)
	}
	return c.alias + "." + c.dialect.Quote(name)
}

// Where renders a group. An empty group renders as a tautology.
func (c *Compiler) Where(g *Group, args *Args) (string, error) {
	if g.IsEmpty() {
		return "1 = 1", nil
	}
	var parts []string
	for _, cond := range g.Conditions {
		s, err := c.Condition(cond, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+s+")")
	}
	for _, sub := range g.Groups {
		if sub.IsEmpty() {
			continue
		}
		s, err := c.Where(sub, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+s+")")
	}
	joiner := " AND "
	if g.Or {
		joiner = " OR "
	}
	return strings.Join(parts, joiner), nil
}

// Condition renders a single condition. Negated operators also match rows
// where the field is NULL or absent.
func (c *Compiler) Condition(cond Condition, args *Args) (string, error) {
	f, err := c.fields.Resolve(cond.Field)
	if err != nil {
		return "", errs.Invalid("%v", err)
	}
	op := cond.Operator
	if op == "" {
		op = OpEq
	}

	var sql string
	switch op.positive() {
	case OpIs:
		sql, err = c.is(f, cond.Value, op.Negated())
		if err != nil {
			return "", errs.Invalid("field %q: %v", cond.Field, err)
		}
		return sql, nil
	case OpIn:
		sql, err = c.in(f, cond.Value, args)
	default:
		sql, err = c.compare(f, op.positive(), cond.Value, args)
	}
	if err != nil {
		return "", errs.Invalid("field %q: %v", cond.Field, err)
	}
	if op.Negated() {
		return "NOT COALESCE((" + sql + "), FALSE)", nil
	}
	return sql, nil
}

// expr picks the SQL expression for a field given the operator and operand.
func (c *Compiler) expr(f Field, op Operator, v any) (string, any, error) {
	col := c.Column(f.Column.Name)
	if f.IsDocument() {
		switch op {
		case OpLike, OpIlike, OpMatch, OpLtree, OpAncestor, OpDescendant:
			s, err := c.dialect.JSONText(col, f.Path)
			return s, textValue(v), err
		case OpContains:
			s, err := c.dialect.JSONValue(col, f.Path)
			return s, textValue(v), err
		}
		switch x := v.(type) {
		case nil:
			return "", nil, fmt.Errorf("null is only valid with is/nis")
		case bool:
			s, err := c.dialect.JSONBool(col, f.Path)
			return s, x, err
		case string:
			s, err := c.dialect.JSONText(col, f.Path)
			return s, x, err
		}
		if n, ok := numberValue(v); ok {
			s, err := c.dialect.JSONNumber(col, f.Path)
			return s, n, err
		}
		return "", nil, fmt.Errorf("unsupported value %v", v)
	}

	kind := f.Column.Kind
	switch op {
	case OpLike, OpIlike, OpMatch:
		switch kind {
		case KindText, KindPath:
			return col, textValue(v), nil
		case KindUUID, KindNumber:
			return c.dialect.Text(col), textValue(v), nil
		}
		return "", nil, fmt.Errorf("operator %s not supported", op)
	case OpDescendant:
		if kind != KindPath && kind != KindText {
			return "", nil, fmt.Errorf("operator %s needs a path or folder field", op)
		}
		return col, textValue(v), nil
	case OpLtree, OpAncestor:
		if kind != KindPath {
			return "", nil, fmt.Errorf("operator %s needs a path field", op)
		}
		return col, textValue(v), nil
	case OpContains:
		if kind != KindJSONArray {
			return "", nil, fmt.Errorf("operator ? needs an array field")
		}
		return col, textValue(v), nil
	}

	switch kind {
	case KindText, KindPath:
		if v == nil {
			return "", nil, fmt.Errorf("null is only valid with is/nis")
		}
		return col, textValue(v), nil
	case KindNumber:
		n, ok := numberValue(v)
		if !ok {
			return "", nil, fmt.Errorf("expected a number, got %v", v)
		}
		return col, n, nil
	case KindBool:
		b, ok := v.(bool)
		if !ok || (op != OpEq) {
			return "", nil, fmt.Errorf("boolean fields support eq/neq/is/nis with true or false")
		}
		return col, b, nil
	case KindTime:
		ts, err := entity.ParseTimestamp(textValue(v))
		if err != nil {
			return "", nil, err
		}
		return col, ts, nil
	case KindUUID:
		id, err := entity.ParseUUID(textValue(v))
		if err != nil {
			return "", nil, err
		}
		return col, id, nil
	}
	return "", nil, fmt.Errorf("operator %s not supported", op)
}

func (c *Compiler) compare(f Field, op Operator, v any, args *Args) (string, error) {
	expr, val, err := c.expr(f, op, v)
	if err != nil {
		return "", err
	}
	switch op {
	case OpEq:
		return expr + " = " + args.Add(val), nil
	case OpGt:
		return expr + " > " + args.Add(val), nil
	case OpGte:
		return expr + " >= " + args.Add(val), nil
	case OpLt:
		return expr + " < " + args.Add(val), nil
	case OpLte:
		return expr + " <= " + args.Add(val), nil
	case OpLike, OpIlike:
		return c.dialect.ILike(expr, args.Add(LikePattern(val.(string)))) + ` ESCAPE '\'`, nil
	case OpMatch:
		pattern := val.(string)
		if _, err := regexp.Compile(pattern); err != nil {
			return "", fmt.Errorf("invalid pattern: %w", err)
		}
		return c.dialect.Regexp(expr, args.Add(pattern)), nil
	case OpLtree:
		rx, err := LqueryRegexp(val.(string))
		if err != nil {
			return "", err
		}
		return c.dialect.Regexp(c.dialect.Concat(expr, "'.'"), args.Add(rx)), nil
	case OpAncestor:
		p, err := entity.ParsePath(val.(string))
		if err != nil {
			return "", err
		}
		var ph []string
		for _, a := range p.Ancestors() {
			ph = append(ph, args.Add(string(a)))
		}
		return expr + " IN (" + strings.Join(ph, ", ") + ")", nil
	case OpDescendant:
		if !f.IsDocument() && f.Column.Kind == KindText {
			return c.folderDescendant(expr, val.(string), args)
		}
		p, err := entity.ParsePath(val.(string))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%[1]s = %[2]s OR (%[1]s >= %[3]s AND %[1]s < %[4]s))",
			expr, args.Add(string(p)), args.Add(string(p)+"."), args.Add(string(p)+"/")), nil
	case OpContains:
		return c.dialect.JSONArrayContains(expr, c.dialect.TextParam(args.Add(val))), nil
	}
	return "", fmt.Errorf("unknown operator %q", op)
}

// folderDescendant matches a slash-separated folder and everything filed
// beneath it.
func (c *Compiler) folderDescendant(expr, folder string, args *Args) (string, error) {
	folder = strings.TrimSuffix(folder, "/")
	if folder == "" {
		return "", fmt.Errorf("descendant needs a folder")
	}
	prefix := folder + "/"
	return fmt.Sprintf("(%[1]s = %[2]s OR substr(%[1]s, 1, %[3]d) = %[4]s)",
		expr, args.Add(folder), utf8.RuneCountInString(prefix), args.Add(prefix)), nil
}

func (c *Compiler) is(f Field, v any, negated bool) (string, error) {
	is := " IS "
	if negated {
		is = " IS NOT "
	}
	if s, ok := v.(string); ok {
		switch s {
		case "null":
			v = nil
		case "true":
			v = true
		case "false":
			v = false
		}
	}
	col := c.Column(f.Column.Name)
	switch x := v.(type) {
	case nil:
		expr := col
		if f.IsDocument() {
			var err error
			if expr, err = c.dialect.JSONText(col, f.Path); err != nil {
				return "", err
			}
		}
		return expr + is + "NULL", nil
	case bool:
		expr := col
		if f.IsDocument() {
			var err error
			if expr, err = c.dialect.JSONBool(col, f.Path); err != nil {
				return "", err
			}
		} else if f.Column.Kind != KindBool {
			return "", fmt.Errorf("is %v needs a boolean field", x)
		}
		if x {
			return expr + is + "TRUE", nil
		}
		return expr + is + "FALSE", nil
	}
	return "", fmt.Errorf("is/nis only accept null, true or false")
}

func (c *Compiler) in(f Field, v any, args *Args) (string, error) {
	items := listValue(v)
	if len(items) == 0 {
		return "FALSE", nil
	}
	if !f.IsDocument() && f.Column.Kind == KindJSONArray {
		var parts []string
		for _, item := range items {
			s, err := c.compare(f, OpContains, item, args)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " OR "), nil
	}

	// values of different JSON types compare against different expressions
	var order []string
	groups := map[string][]string{}
	for _, item := range items {
		expr, val, err := c.expr(f, OpEq, item)
		if err != nil {
			return "", err
		}
		if _, seen := groups[expr]; !seen {
			order = append(order, expr)
		}
		groups[expr] = append(groups[expr], args.Add(val))
	}
	parts := make([]string, 0, len(order))
	for _, expr := range order {
		parts = append(parts, expr+" IN ("+strings.Join(groups[expr], ", ")+")")
	}
	return strings.Join(parts, " OR "), nil
}

// Search renders free-text terms as a conjunction of substring matches on
// the search column.
func (c *Compiler) Search(term string, args *Args) (string, error) {
	terms := strings.Fields(strings.ToLower(term))
	if len(terms) == 0 {
		return "", nil
	}
	if c.fields.Search == "" {
		return "", errs.Invalid("search is not supported here")
	}
	col := c.Column(c.fields.Search)
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		parts = append(parts, c.dialect.ILike(col, args.Add(LikePattern(t)))+` ESCAPE '\'`)
	}
	return strings.Join(parts, " AND "), nil
}

// OrderBy renders a comma separated order list. A "-" prefix flips the
// direction of one field. The id column is appended as a tiebreaker.
func (c *Compiler) OrderBy(order string, asc bool) (string, error) {
	if strings.TrimSpace(order) == "" {
		order = c.fields.DefaultOrder
	}
	var terms []string
	seenID := false
	for _, name := range strings.Split(order, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		dir := asc
		if strings.HasPrefix(name, "-") {
			dir = !dir
			name = name[1:]
		}
		f, err := c.fields.Resolve(name)
		if err != nil {
			return "", errs.Invalid("order: %v", err)
		}
		expr := c.Column(f.Column.Name)
		if f.IsDocument() {
			if expr, err = c.dialect.JSONValue(expr, f.Path); err != nil {
				return "", errs.Invalid("order: %v", err)
			}
		}
		if f.Column.Name == c.fields.ID {
			seenID = true
		}
		terms = append(terms, expr+" "+direction(dir))
	}
	if !seenID && c.fields.ID != "" {
		terms = append(terms, c.Column(c.fields.ID)+" "+direction(asc))
	}
	return "ORDER BY " + strings.Join(terms, ", "), nil
}

func direction(asc bool) string {
	if asc {
		return "ASC"
	}
	return "DESC"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern wraps a plain value as a substring pattern. Values that
// already contain a % wildcard are used as given.
func LikePattern(v string) string {
	if strings.Contains(v, "%") {
		return v
	}
	return "%" + likeEscaper.Replace(v) + "%"
}

func textValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func numberValue(v any) (any, bool) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		return f, err == nil
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return nil, false
}

func listValue(v any) []any {
	if v == nil {
		return nil
	}
	if l, ok := v.([]any); ok {
		return l
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

var checkDialect = adapter.NewDialect(adapter.SQLite, "")

// Check compiles cond against the field set and discards the SQL.
func (fs *FieldSet) Check(cond Condition) error {
	_, err := NewCompiler(checkDialect, fs).Condition(cond, NewArgs(checkDialect))
	return err
}

// Supports reports whether op applies to the named field for values that
// are only known later.
func (fs *FieldSet) Supports(name string, op Operator) error {
	f, err := fs.Resolve(name)
	if err != nil {
		return errs.Invalid("%v", err)
	}
	return fs.Check(Cond(name, op, sampleValue(f, op.positive())))
}

func sampleValue(f Field, op Operator) any {
	switch op {
	case OpIs:
		return nil
	case OpIn:
		return []any{sampleValue(f, OpEq)}
	case OpLike, OpIlike, OpMatch, OpLtree, OpAncestor, OpDescendant, OpContains:
		return "a"
	}
	if f.IsDocument() {
		return "a"
	}
	switch f.Column.Kind {
	case KindNumber:
		return 0
	case KindBool:
		return true
	case KindTime:
		return "2000-01-01T00:00:00Z"
	case KindUUID:
		return "00000000-0000-4000-8000-000000000000"
	}
	return "a"
}
