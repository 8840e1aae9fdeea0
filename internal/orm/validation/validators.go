package validation

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/conduit-lang/collections/internal/orm/entity"
)

// Validator checks a single value against one rule
type Validator interface {
	Rule() string
	Validate(value any) error
}

// MinValidator validates the minimum keyword
type MinValidator struct {
	Min float64
}

func (v *MinValidator) Rule() string { return "minimum" }

// Validate implements the Validator interface
func (v *MinValidator) Validate(value any) error {
	n, ok := toFloat64(value)
	if !ok {
		return nil // type rule reports non-numbers
	}
	if n < v.Min {
		return fmt.Errorf("must be at least %v", v.Min)
	}
	return nil
}

// MaxValidator validates the maximum keyword
type MaxValidator struct {
	Max float64
}

func (v *MaxValidator) Rule() string { return "maximum" }

// Validate implements the Validator interface
func (v *MaxValidator) Validate(value any) error {
	n, ok := toFloat64(value)
	if !ok {
		return nil
	}
	if n > v.Max {
		return fmt.Errorf("must be at most %v", v.Max)
	}
	return nil
}

// MinLengthValidator validates minimum string length in characters
type MinLengthValidator struct {
	MinLength int
}

func (v *MinLengthValidator) Rule() string { return "minLength" }

// Validate implements the Validator interface
func (v *MinLengthValidator) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if utf8.RuneCountInString(s) < v.MinLength {
		return fmt.Errorf("must be at least %d characters", v.MinLength)
	}
	return nil
}

// MaxLengthValidator validates maximum string length in characters
type MaxLengthValidator struct {
	MaxLength int
}

func (v *MaxLengthValidator) Rule() string { return "maxLength" }

// Validate implements the Validator interface
func (v *MaxLengthValidator) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if utf8.RuneCountInString(s) > v.MaxLength {
		return fmt.Errorf("must be at most %d characters", v.MaxLength)
	}
	return nil
}

// MinItemsValidator validates minimum array length
type MinItemsValidator struct {
	MinItems int
}

func (v *MinItemsValidator) Rule() string { return "minItems" }

// Validate implements the Validator interface
func (v *MinItemsValidator) Validate(value any) error {
	n, ok := sliceLen(value)
	if ok && n < v.MinItems {
		return fmt.Errorf("must contain at least %d items", v.MinItems)
	}
	return nil
}

// MaxItemsValidator validates maximum array length
type MaxItemsValidator struct {
	MaxItems int
}

func (v *MaxItemsValidator) Rule() string { return "maxItems" }

// Validate implements the Validator interface
func (v *MaxItemsValidator) Validate(value any) error {
	n, ok := sliceLen(value)
	if ok && n > v.MaxItems {
		return fmt.Errorf("must contain at most %d items", v.MaxItems)
	}
	return nil
}

// PatternValidator validates string values against a regex pattern
type PatternValidator struct {
	Pattern *regexp.Regexp
}

func (v *PatternValidator) Rule() string { return "pattern" }

// Validate implements the Validator interface
func (v *PatternValidator) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if !v.Pattern.MatchString(s) {
		return fmt.Errorf("does not match required pattern")
	}
	return nil
}

// EnumValidator validates membership in an enum list
type EnumValidator struct {
	Values []any
}

func (v *EnumValidator) Rule() string { return "enum" }

// Validate implements the Validator interface
func (v *EnumValidator) Validate(value any) error {
	for _, allowed := range v.Values {
		if jsonEqual(allowed, value) {
			return nil
		}
	}
	return fmt.Errorf("must be one of %v", v.Values)
}

// FormatValidator validates the format keyword
type FormatValidator struct {
	Format string
}

func (v *FormatValidator) Rule() string { return "format" }

// Validate implements the Validator interface
func (v *FormatValidator) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if s == "" {
		return nil // emptiness is a required/minLength concern
	}

	switch v.Format {
	case "email":
		if _, err := mail.ParseAddress(s); err != nil || strings.ContainsAny(s, "<> ") {
			return fmt.Errorf("must be a valid email address")
		}
	case "uri", "url":
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("must be a valid URL")
		}
	case "uuid":
		if _, err := uuid.Parse(s); err != nil {
			return fmt.Errorf("must be a valid UUID")
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return fmt.Errorf("must be an RFC 3339 date-time")
		}
	case "date":
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return fmt.Errorf("must be a date (YYYY-MM-DD)")
		}
	case "time":
		if _, err := time.Parse("15:04:05", strings.TrimSuffix(s, "Z")); err != nil {
			if _, err := time.Parse("15:04", s); err != nil {
				return fmt.Errorf("must be a time (HH:MM[:SS])")
			}
		}
	case "ltree":
		if _, err := entity.ParsePath(s); err != nil {
			return fmt.Errorf("must be a dot-separated path")
		}
	}
	return nil
}

// typeMatches reports whether value satisfies a JSON-Schema type name.
func typeMatches(typ string, value any) bool {
	switch typ {
	case "null":
		return value == nil
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := toFloat64(value)
		return ok
	case "integer":
		f, ok := toFloat64(value)
		return ok && f == float64(int64(f))
	case "object":
		_, ok := value.(map[string]any)
		if !ok {
			_, ok = value.(entity.Doc)
		}
		return ok
	case "array":
		_, ok := sliceLen(value)
		return ok
	}
	return false
}

func sliceLen(value any) (int, bool) {
	if value == nil {
		return 0, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return 0, false
	}
	return rv.Len(), true
}

func jsonEqual(a, b any) bool {
	if fa, ok := toFloat64(a); ok {
		fb, ok := toFloat64(b)
		return ok && fa == fb
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ab) == string(bb)
}

// Helper functions for type conversion

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
