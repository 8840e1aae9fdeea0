package adapter

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Type tags the storage backend.
type Type string

const (
	Postgres Type = "pg"
	SQLite   Type = "sqlite"
)

// ParseType accepts the backend tag and a few common aliases.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "pg", "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported provider type %q", s)
}

// Dialect renders the backend specific bits of SQL.
type Dialect struct {
	typ    Type
	prefix string
}

// NewDialect returns the dialect for typ with tables named prefix+name.
func NewDialect(typ Type, prefix string) Dialect {
	return Dialect{typ: typ, prefix: prefix}
}

// Type returns the backend tag.
func (d Dialect) Type() Type { return d.typ }

// Prefix returns the table name prefix.
func (d Dialect) Prefix() string { return d.prefix }

// Placeholder returns the n-th (1-based) positional parameter.
func (d Dialect) Placeholder(n int) string {
	if d.typ == SQLite {
		return fmt.Sprintf("?%d", n)
	}
	return fmt.Sprintf("$%d", n)
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	return pq.QuoteIdentifier(ident)
}

// Table returns the quoted, prefixed table name.
func (d Dialect) Table(name string) string {
	return pq.QuoteIdentifier(d.prefix + name)
}

// Name returns the unquoted prefixed name, used for indexes and constraints.
func (d Dialect) Name(name string) string {
	return d.prefix + name
}

// UUIDType is the column type for identifiers.
func (d Dialect) UUIDType() string {
	if d.typ == Postgres {
		return "UUID"
	}
	return "TEXT"
}

// JSONType is the column type for JSON documents.
func (d Dialect) JSONType() string {
	if d.typ == Postgres {
		return "JSONB"
	}
	return "TEXT"
}

// TimestampType is the column type for timestamps.
func (d Dialect) TimestampType() string {
	if d.typ == Postgres {
		return "TIMESTAMPTZ"
	}
	return "TEXT"
}

// PathType is the column type for dot paths. Byte-wise collation keeps
// prefix ranges ("a." <= x < "a/") aligned with ancestry.
func (d Dialect) PathType() string {
	if d.typ == Postgres {
		return `TEXT COLLATE "C"`
	}
	return "TEXT COLLATE BINARY"
}

// jsonPathLiteral validates key segments and renders them for the backend.
func (d Dialect) jsonPathLiteral(path []string) (string, error) {
	for _, seg := range path {
		if seg == "" || strings.ContainsAny(seg, `'"{},\$[]`) {
			return "", fmt.Errorf("invalid json path segment %q", seg)
		}
	}
	if d.typ == Postgres {
		return pq.QuoteLiteral("{" + strings.Join(path, ",") + "}"), nil
	}
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range path {
		if isIndex(seg) {
			b.WriteString("[" + seg + "]")
		} else {
			b.WriteString(`."` + seg + `"`)
		}
	}
	return pq.QuoteLiteral(b.String()), nil
}

func isIndex(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// JSONText extracts the value at path as text (NULL when absent).
func (d Dialect) JSONText(col string, path []string) (string, error) {
	lit, err := d.jsonPathLiteral(path)
	if err != nil {
		return "", err
	}
	if d.typ == Postgres {
		return fmt.Sprintf("(%s #>> %s)", col, lit), nil
	}
	return fmt.Sprintf("json_extract(%s, %s)", col, lit), nil
}

// JSONNumber extracts the value at path as a number; non-numbers yield NULL.
func (d Dialect) JSONNumber(col string, path []string) (string, error) {
	lit, err := d.jsonPathLiteral(path)
	if err != nil {
		return "", err
	}
	if d.typ == Postgres {
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%[1]s #> %[2]s) = 'number' THEN (%[1]s #>> %[2]s)::numeric END)", col, lit), nil
	}
	return fmt.Sprintf("(CASE WHEN json_type(%[1]s, %[2]s) IN ('integer', 'real') THEN json_extract(%[1]s, %[2]s) END)", col, lit), nil
}

// JSONBool extracts the value at path as a boolean; non-booleans yield NULL.
func (d Dialect) JSONBool(col string, path []string) (string, error) {
	lit, err := d.jsonPathLiteral(path)
	if err != nil {
		return "", err
	}
	if d.typ == Postgres {
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%[1]s #> %[2]s) = 'boolean' THEN (%[1]s #>> %[2]s)::boolean END)", col, lit), nil
	}
	return fmt.Sprintf("(CASE json_type(%[1]s, %[2]s) WHEN 'true' THEN 1 WHEN 'false' THEN 0 END)", col, lit), nil
}

// JSONValue extracts the raw JSON sub-document at path.
func (d Dialect) JSONValue(col string, path []string) (string, error) {
	lit, err := d.jsonPathLiteral(path)
	if err != nil {
		return "", err
	}
	if d.typ == Postgres {
		return fmt.Sprintf("(%s #> %s)", col, lit), nil
	}
	return fmt.Sprintf("json_extract(%s, %s)", col, lit), nil
}

// JSONArrayContains tests whether the JSON array expression contains the
// string parameter.
func (d Dialect) JSONArrayContains(jsonExpr, param string) string {
	if d.typ == Postgres {
		return fmt.Sprintf("(jsonb_typeof(%[1]s) = 'array' AND jsonb_exists(%[1]s, %[2]s))", jsonExpr, param)
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(CASE WHEN json_valid(%[1]s) THEN %[1]s ELSE '[]' END) WHERE json_each.value = %[2]s)", jsonExpr, param)
}

// ILike is a case-insensitive LIKE.
func (d Dialect) ILike(expr, param string) string {
	if d.typ == Postgres {
		return fmt.Sprintf("%s ILIKE %s", expr, param)
	}
	return fmt.Sprintf("%s LIKE %s", expr, param)
}

// Regexp is a regular-expression match of expr against the pattern param.
// NULL never matches.
func (d Dialect) Regexp(expr, param string) string {
	if d.typ == Postgres {
		return fmt.Sprintf("%s ~ %s", expr, param)
	}
	return fmt.Sprintf("(%[1]s IS NOT NULL AND regexp(%[2]s, CAST(COALESCE(%[1]s, '') AS TEXT)))", expr, param)
}

// Text casts expr to text.
func (d Dialect) Text(expr string) string {
	return fmt.Sprintf("CAST(%s AS TEXT)", expr)
}

// Substr returns the suffix of expr starting at the 1-based position param.
func (d Dialect) Substr(expr, from string) string {
	if d.typ == Postgres {
		return fmt.Sprintf("substr(%s, CAST(%s AS INTEGER))", expr, from)
	}
	return fmt.Sprintf("substr(%s, %s)", expr, from)
}

// Concat concatenates SQL expressions.
func (d Dialect) Concat(exprs ...string) string {
	return "(" + strings.Join(exprs, " || ") + ")"
}

// ForUpdate is the row-locking suffix of a SELECT. SQLite serialises
// writers with immediate transactions instead.
func (d Dialect) ForUpdate() string {
	if d.typ == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// TextParam casts a parameter whose type postgres cannot infer.
func (d Dialect) TextParam(param string) string {
	if d.typ == Postgres {
		return "CAST(" + param + " AS TEXT)"
	}
	return param
}
