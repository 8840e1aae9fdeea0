package schema

import (
	"fmt"
	"regexp"

	"github.com/conduit-lang/collections/internal/orm/errs"
)

var jsonTypes = map[string]bool{
	"string": true, "number": true, "integer": true, "boolean": true,
	"object": true, "array": true, "null": true,
}

// Formats understood by the validator.
var Formats = map[string]bool{
	"email": true, "uri": true, "url": true, "uuid": true,
	"date-time": true, "date": true, "time": true, "ltree": true,
}

// Check validates schema definitions before they are stored. A cycle in
// __extends is returned on its own as a SchemaCycleError; every other
// problem is collected into one SchemaValidationError.
func Check(types Types) error {
	graph := NewExtendsGraph(types)
	if cycles := graph.DetectCycles(); len(cycles) > 0 {
		return &errs.SchemaCycleError{Chain: cycles[0]}
	}

	verr := &errs.SchemaValidationError{}
	for name, ts := range types {
		base := "schemas." + name
		if ts == nil {
			verr.Add(base, "schema", nil, "schema must be an object")
			continue
		}
		if ts.Extends != "" {
			if _, ok := types[ts.Extends]; !ok {
				verr.Add(base+".__extends", "extends", ts.Extends, "extends unknown type %q", ts.Extends)
			}
		}
		if ts.Type != "" && ts.Type != "object" {
			verr.Add(base+".type", "type", ts.Type, "type schema must be an object")
		}
		for _, req := range ts.Required {
			if _, ok := ts.Properties.Get(req); !ok && ts.Extends == "" {
				verr.Add(base+".required", "required", req, "required property %q is not declared", req)
			}
		}
		ts.Properties.Each(func(prop string, def *PropertyDefinition) {
			checkProperty(verr, base+"."+prop, def)
		})
	}
	return verr.ErrOrNil()
}

func checkProperty(verr *errs.SchemaValidationError, field string, def *PropertyDefinition) {
	if def == nil {
		verr.Add(field, "schema", nil, "property definition must be an object")
		return
	}
	for _, t := range def.Type {
		if !jsonTypes[t] {
			verr.Add(field+".type", "type", t, "unknown type %q", t)
		}
	}
	if def.Pattern != "" {
		if _, err := regexp.Compile(def.Pattern); err != nil {
			verr.Add(field+".pattern", "pattern", def.Pattern, "invalid pattern: %v", err)
		}
	}
	if def.Format != "" && !Formats[def.Format] {
		verr.Add(field+".format", "format", def.Format, "unknown format %q", def.Format)
	}
	if def.Minimum != nil && def.Maximum != nil && *def.Minimum > *def.Maximum {
		verr.Add(field, "minimum", *def.Minimum, "minimum %v is greater than maximum %v", *def.Minimum, *def.Maximum)
	}
	if def.MinLength != nil && def.MaxLength != nil && *def.MinLength > *def.MaxLength {
		verr.Add(field, "minLength", *def.MinLength, "minLength is greater than maxLength")
	}
	for _, f := range def.SearchableFilters {
		if _, ok := SearchFilters[f]; !ok {
			verr.Add(field+"._searchable_filters", "searchable_filters", f, "unknown filter %q", f)
		}
	}
	if def.Items != nil {
		checkProperty(verr, field+".items", def.Items)
	}
	if def.Properties != nil {
		def.Properties.Each(func(prop string, sub *PropertyDefinition) {
			checkProperty(verr, fmt.Sprintf("%s.%s", field, prop), sub)
		})
	}
}
