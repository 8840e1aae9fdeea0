// Package query reads list query syntax from HTTP requests.
package query

import (
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/conduit-lang/collections/internal/orm/errs"
	oq "github.com/conduit-lang/collections/internal/orm/query"
)

// filterPattern matches filter[field] and filter[field][operator]
var filterPattern = regexp.MustCompile(`^filter\[([^\]]+)\](?:\[([^\]]+)\])?$`)

// Parse returns the query syntax of a request. A q parameter holding the
// JSON form wins; otherwise the flattened parameters are read:
//
//	?search=shoe&order=_created_at&asc=false&limit=20&offset=40
//	&filter[status][in]=paid,shipped&filter[data.sku]=X1
func Parse(r *http.Request) (*oq.Syntax, error) {
	values := r.URL.Query()
	if q := values.Get("q"); q != "" {
		s, err := oq.ParseSyntax([]byte(q))
		if err != nil {
			return nil, errs.Invalid("q: %v", err)
		}
		return s, nil
	}
	return Flattened(values)
}

// Flattened builds the syntax from individual parameters. Filters are
// combined with AND.
func Flattened(values url.Values) (*oq.Syntax, error) {
	s := &oq.Syntax{
		Search: values.Get("search"),
		Order:  values.Get("order"),
	}
	if v := values.Get("asc"); v != "" {
		asc, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errs.Invalid("asc: %q is not a boolean", v)
		}
		s.Asc = &asc
	}
	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return nil, errs.Invalid("limit: %q is not a non-negative integer", v)
		}
		s.Limit = &limit
	}
	if v := values.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return nil, errs.Invalid("offset: %q is not a non-negative integer", v)
		}
		s.Offset = offset
	}

	for key, vals := range values {
		m := filterPattern.FindStringSubmatch(key)
		if m == nil || len(vals) == 0 {
			continue
		}
		op := oq.OpEq
		if m[2] != "" {
			parsed, err := oq.ParseOperator(m[2])
			if err != nil {
				return nil, errs.Invalid("%s: %v", key, err)
			}
			op = parsed
		}
		s.Where.Add(oq.Cond(m[1], op, filterValue(op, vals[0])))
	}
	// map iteration order is random
	sort.SliceStable(s.Where.Conditions, func(i, j int) bool {
		return s.Where.Conditions[i].Field < s.Where.Conditions[j].Field
	})
	return s, nil
}

// filterValue converts a raw parameter for an operator: set operators split
// on commas and identity operators take null, true or false.
func filterValue(op oq.Operator, raw string) any {
	switch op {
	case oq.OpIn, oq.OpNin:
		parts := strings.Split(raw, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case oq.OpIs, oq.OpNis:
		switch strings.ToLower(raw) {
		case "null":
			return nil
		case "true":
			return true
		case "false":
			return false
		}
	}
	return raw
}
