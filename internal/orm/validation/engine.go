// Package validation checks model data against resolved type schemas.
package validation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/schema"
)

// UniqueChecker answers _unique lookups against stored models.
type UniqueChecker interface {
	// IsUnique reports whether no other model of (collection, type) holds
	// value in field. exclude is the id of the model being written.
	IsUnique(ctx context.Context, collectionID entity.UUID, typ, field string, value any, exclude entity.UUID) (bool, error)
}

// Target identifies the model whose data is being validated.
type Target struct {
	CollectionID entity.UUID
	Type         string
	ModelID      entity.UUID
}

// Engine validates data against schemas and accumulates every violation.
type Engine struct {
	unique   UniqueChecker
	patterns sync.Map // string -> *regexp.Regexp
}

// NewEngine creates a validation engine. unique may be nil, in which case
// _unique is not enforced.
func NewEngine(unique UniqueChecker) *Engine {
	return &Engine{unique: unique}
}

// Validate checks data against resolved. Violations are returned together
// as one *errs.SchemaValidationError; a cancelled ctx or a failing
// uniqueness lookup is returned as is.
func (e *Engine) Validate(ctx context.Context, target Target, resolved *schema.Resolved, data map[string]any) error {
	verr := &errs.SchemaValidationError{}

	for _, name := range resolved.Required {
		if v, ok := data[name]; !ok || v == nil {
			verr.Add(name, "required", nil, "is required")
		}
	}

	for _, name := range resolved.Properties.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		def, _ := resolved.Properties.Get(name)
		value, ok := data[name]
		if !ok || value == nil {
			continue
		}
		e.validateValue(name, def, value, verr)
	}

	if resolved.AdditionalProperties != nil && !*resolved.AdditionalProperties {
		var extra []string
		for k := range data {
			if _, ok := resolved.Properties.Get(k); !ok {
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		for _, k := range extra {
			verr.Add(k, "additionalProperties", nil, "is not an allowed property")
		}
	}

	if err := e.checkUnique(ctx, target, resolved, data, verr); err != nil {
		return err
	}

	return verr.ErrOrNil()
}

func (e *Engine) validateValue(field string, def *schema.PropertyDefinition, value any, verr *errs.SchemaValidationError) {
	if len(def.Type) > 0 {
		matched := false
		for _, t := range def.Type {
			if typeMatches(t, value) {
				matched = true
				break
			}
		}
		if !matched {
			verr.Add(field, "type", value, "must be of type %s", joinTypes(def.Type))
			return
		}
	}

	for _, v := range e.validatorsFor(def, verr, field) {
		if err := v.Validate(value); err != nil {
			verr.Add(field, v.Rule(), value, "%s", err.Error())
		}
	}

	switch typed := value.(type) {
	case map[string]any:
		e.validateObject(field, def, typed, verr)
	case entity.Doc:
		e.validateObject(field, def, typed, verr)
	case []any:
		if def.Items != nil {
			for i, item := range typed {
				if item == nil {
					continue
				}
				e.validateValue(fmt.Sprintf("%s.%d", field, i), def.Items, item, verr)
			}
		}
	}
}

func (e *Engine) validateObject(field string, def *schema.PropertyDefinition, obj map[string]any, verr *errs.SchemaValidationError) {
	for _, req := range def.Required {
		if v, ok := obj[req]; !ok || v == nil {
			verr.Add(field+"."+req, "required", nil, "is required")
		}
	}
	if def.Properties == nil {
		return
	}
	def.Properties.Each(func(name string, sub *schema.PropertyDefinition) {
		if v, ok := obj[name]; ok && v != nil {
			e.validateValue(field+"."+name, sub, v, verr)
		}
	})
}

func (e *Engine) validatorsFor(def *schema.PropertyDefinition, verr *errs.SchemaValidationError, field string) []Validator {
	var out []Validator
	if len(def.Enum) > 0 {
		out = append(out, &EnumValidator{Values: def.Enum})
	}
	if def.Minimum != nil {
		out = append(out, &MinValidator{Min: *def.Minimum})
	}
	if def.Maximum != nil {
		out = append(out, &MaxValidator{Max: *def.Maximum})
	}
	if def.MinLength != nil {
		out = append(out, &MinLengthValidator{MinLength: *def.MinLength})
	}
	if def.MaxLength != nil {
		out = append(out, &MaxLengthValidator{MaxLength: *def.MaxLength})
	}
	if def.MinItems != nil {
		out = append(out, &MinItemsValidator{MinItems: *def.MinItems})
	}
	if def.MaxItems != nil {
		out = append(out, &MaxItemsValidator{MaxItems: *def.MaxItems})
	}
	if def.Pattern != "" {
		re, err := e.compile(def.Pattern)
		if err != nil {
			verr.Add(field, "pattern", def.Pattern, "schema pattern is invalid: %v", err)
		} else {
			out = append(out, &PatternValidator{Pattern: re})
		}
	}
	if def.Format != "" {
		out = append(out, &FormatValidator{Format: def.Format})
	}
	return out
}

func (e *Engine) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.patterns.Store(pattern, re)
	return re, nil
}

func (e *Engine) checkUnique(ctx context.Context, target Target, resolved *schema.Resolved, data map[string]any, verr *errs.SchemaValidationError) error {
	if e.unique == nil {
		return nil
	}
	for _, field := range resolved.UniqueFields() {
		value, ok := data[field]
		if !ok || value == nil || value == "" {
			continue
		}
		ok, err := e.unique.IsUnique(ctx, target.CollectionID, target.Type, field, value, target.ModelID)
		if err != nil {
			return fmt.Errorf("unique check for %s: %w", field, err)
		}
		if !ok {
			verr.Add(field, "unique", value, "must be unique")
		}
	}
	return nil
}

func joinTypes(types schema.TypeSet) string {
	if len(types) == 1 {
		return types[0]
	}
	return fmt.Sprintf("%v", []string(types))
}
