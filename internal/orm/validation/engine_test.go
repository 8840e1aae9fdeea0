package validation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/schema"
)

func resolve(t *testing.T, src, typ string) *schema.Resolved {
	t.Helper()
	var types schema.Types
	require.NoError(t, json.Unmarshal([]byte(src), &types))
	r, err := schema.ResolveType(types, typ)
	require.NoError(t, err)
	return r
}

const orderTypes = `{
	"base": {"required": ["number"], "properties": {
		"number": {"type": "string", "pattern": "^ORD-\\d+$", "_unique": true}
	}},
	"order": {"__extends": "base", "required": ["status"], "properties": {
		"status":   {"type": "string", "enum": ["new", "paid", "shipped"], "_default": "new"},
		"total":    {"type": "number", "minimum": 0},
		"email":    {"type": "string", "format": "email"},
		"address":  {"type": "object", "required": ["city"], "properties": {
			"city": {"type": "string", "minLength": 2},
			"zip":  {"type": "string", "pattern": "^\\d{5}$"}
		}},
		"lines":    {"type": "array", "maxItems": 3, "items": {"type": "object", "properties": {
			"qty": {"type": "integer", "minimum": 1}
		}}}
	}}
}`

func TestEngine_AccumulatesAllViolations(t *testing.T) {
	e := NewEngine(nil)
	r := resolve(t, orderTypes, "order")

	err := e.Validate(context.Background(), Target{}, r, map[string]any{
		"number":  "X-1",
		"status":  "lost",
		"total":   -5.0,
		"email":   "nope",
		"address": map[string]any{"zip": "1"},
		"lines":   []any{map[string]any{"qty": 0.0}, map[string]any{"qty": 1.5}},
	})
	require.Error(t, err)

	var verr *errs.SchemaValidationError
	require.True(t, errors.As(err, &verr))

	rules := map[string]string{}
	for _, v := range verr.Violations {
		rules[v.Field] = v.Rule
	}
	assert.Equal(t, map[string]string{
		"number":       "pattern",
		"status":       "enum",
		"total":        "minimum",
		"email":        "format",
		"address.city": "required",
		"address.zip":  "pattern",
		"lines.0.qty":  "minimum",
		"lines.1.qty":  "type",
	}, rules)
}

func TestEngine_RequiredAcrossExtends(t *testing.T) {
	e := NewEngine(nil)
	r := resolve(t, orderTypes, "order")

	err := e.Validate(context.Background(), Target{}, r, map[string]any{"status": nil})
	var verr *errs.SchemaValidationError
	require.True(t, errors.As(err, &verr))

	fields := verr.Fields()
	assert.Contains(t, fields, "number")
	assert.Contains(t, fields, "status")
}

func TestEngine_ValidData(t *testing.T) {
	e := NewEngine(nil)
	r := resolve(t, orderTypes, "order")

	err := e.Validate(context.Background(), Target{}, r, map[string]any{
		"number":  "ORD-1",
		"status":  "paid",
		"total":   json.Number("12.50"),
		"address": map[string]any{"city": "Bratislava", "zip": "81101"},
		"lines":   []any{map[string]any{"qty": 2.0}},
		"extra":   "allowed by default",
	})
	assert.NoError(t, err)
}

func TestEngine_AdditionalPropertiesFalse(t *testing.T) {
	e := NewEngine(nil)
	r := resolve(t, `{"t": {"additionalProperties": false, "properties": {"a": {}}}}`, "t")

	err := e.Validate(context.Background(), Target{}, r, map[string]any{"a": 1, "b": 2, "c": 3})
	var verr *errs.SchemaValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Violations, 2)
	assert.Equal(t, "b", verr.Violations[0].Field)
	assert.Equal(t, "additionalProperties", verr.Violations[0].Rule)
}

func TestEngine_DefaultsRoundTrip(t *testing.T) {
	e := NewEngine(nil)
	r := resolve(t, orderTypes, "order")

	data := ApplyDefaults(r, map[string]any{"number": "ORD-7"})
	assert.Equal(t, "new", data["status"])
	assert.NoError(t, e.Validate(context.Background(), Target{}, r, data))
}

type fakeUnique struct {
	taken map[string]bool
	calls []string
	err   error
}

func (f *fakeUnique) IsUnique(_ context.Context, _ entity.UUID, typ, field string, value any, _ entity.UUID) (bool, error) {
	f.calls = append(f.calls, typ+"."+field)
	if f.err != nil {
		return false, f.err
	}
	s, _ := value.(string)
	return !f.taken[s], nil
}

func TestEngine_UniqueIsPartOfTheBatch(t *testing.T) {
	u := &fakeUnique{taken: map[string]bool{"ORD-1": true}}
	e := NewEngine(u)
	r := resolve(t, orderTypes, "order")

	err := e.Validate(context.Background(), Target{Type: "order"}, r, map[string]any{
		"number": "ORD-1",
		"status": "bogus",
	})
	var verr *errs.SchemaValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Violations, 2)
	assert.Equal(t, []string{"order.number"}, u.calls)
}

func TestEngine_UniqueLookupFailureIsNotAViolation(t *testing.T) {
	boom := errors.New("db down")
	e := NewEngine(&fakeUnique{err: boom})
	r := resolve(t, orderTypes, "order")

	err := e.Validate(context.Background(), Target{}, r, map[string]any{"number": "ORD-2", "status": "new"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, errs.IsSchemaValidation(err))
}

func TestEngine_CancelledContext(t *testing.T) {
	e := NewEngine(nil)
	r := resolve(t, orderTypes, "order")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Validate(ctx, Target{}, r, map[string]any{"number": "ORD-1", "status": "new"})
	assert.ErrorIs(t, err, context.Canceled)
}
