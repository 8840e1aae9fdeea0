// Package query compiles the filter syntax used by list endpoints and
// linked rules into parameterised SQL, and evaluates the same predicates
// in memory.
package query

import "fmt"

// Operator is a comparison in a Condition.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpLike       Operator = "like"
	OpNlike      Operator = "nlike"
	OpIlike      Operator = "ilike"
	OpMatch      Operator = "match"
	OpNmatch     Operator = "nmatch"
	OpIs         Operator = "is"
	OpNis        Operator = "nis"
	OpIn         Operator = "in"
	OpNin        Operator = "nin"
	OpLtree      Operator = "ltree"
	OpAncestor   Operator = "ancestor"
	OpDescendant Operator = "descendant"
	OpContains   Operator = "?"
)

var operators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpLike: true, OpNlike: true, OpIlike: true, OpMatch: true, OpNmatch: true,
	OpIs: true, OpNis: true, OpIn: true, OpNin: true,
	OpLtree: true, OpAncestor: true, OpDescendant: true, OpContains: true,
}

// aliases accepted on the wire
var operatorAliases = map[string]Operator{
	"=": OpEq, "!=": OpNeq, "<>": OpNeq, ">": OpGt, ">=": OpGte, "<": OpLt, "<=": OpLte,
	"~": OpMatch, "!~": OpNmatch, "contains": OpContains,
}

// ParseOperator validates an operator name.
func ParseOperator(s string) (Operator, error) {
	if op, ok := operatorAliases[s]; ok {
		return op, nil
	}
	op := Operator(s)
	if !operators[op] {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

// Negated reports whether the operator is the negative form of another.
func (o Operator) Negated() bool {
	switch o {
	case OpNeq, OpNlike, OpNmatch, OpNis, OpNin:
		return true
	}
	return false
}

// positive maps a negated operator onto its positive form.
func (o Operator) positive() Operator {
	switch o {
	case OpNeq:
		return OpEq
	case OpNlike:
		return OpLike
	case OpNmatch:
		return OpMatch
	case OpNis:
		return OpIs
	case OpNin:
		return OpIn
	}
	return o
}
