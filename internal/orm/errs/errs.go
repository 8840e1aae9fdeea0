// Package errs defines the error taxonomy shared by the collections engine.
//
// Every typed error also matches a sentinel through errors.Is, so callers can
// branch on the class of failure without caring about the payload:
//
//	if errors.Is(err, errs.ErrCardinalityExceeded) { ... }
//
// and use errors.As when they need the details.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a collection, model, relation type or relation does not exist
	ErrNotFound = errors.New("not found")

	// ErrSchemaValidation is returned when data fails its schema
	ErrSchemaValidation = errors.New("schema validation failed")

	// ErrPathConflict is returned when a unique path is already taken
	ErrPathConflict = errors.New("path conflict")

	// ErrCardinalityExceeded is returned when a limit on relations or models would be exceeded
	ErrCardinalityExceeded = errors.New("cardinality exceeded")

	// ErrRelationIntegrity is returned when a strong relation target is missing or mismatched
	ErrRelationIntegrity = errors.New("relation integrity violation")

	// ErrImmutable is returned when a readonly or non-deletable entity would be changed
	ErrImmutable = errors.New("immutable")

	// ErrSchemaCycle is returned when __extends references form a cycle
	ErrSchemaCycle = errors.New("schema inheritance cycle")

	// ErrOptimisticLockFailed is returned when a record was modified since it was read
	ErrOptimisticLockFailed = errors.New("record was modified by another transaction")

	// ErrInvalidInput is returned for malformed requests that are not schema violations
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfirmationRequired is returned when an operation needs explicit confirmation
	ErrConfirmationRequired = errors.New("confirmation required")
)

// Violation is a single failed schema rule.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// SchemaValidationError accumulates every violation found in one payload.
type SchemaValidationError struct {
	Violations []Violation `json:"violations"`
}

// Add records a violation.
func (e *SchemaValidationError) Add(field, rule string, value any, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{
		Field:   field,
		Rule:    rule,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}

// Merge appends the violations of other.
func (e *SchemaValidationError) Merge(other *SchemaValidationError) {
	if other != nil {
		e.Violations = append(e.Violations, other.Violations...)
	}
}

// HasViolations reports whether anything was recorded.
func (e *SchemaValidationError) HasViolations() bool {
	return len(e.Violations) > 0
}

// Fields groups messages by field, the shape used by form re-display.
func (e *SchemaValidationError) Fields() map[string][]string {
	out := make(map[string][]string)
	for _, v := range e.Violations {
		out[v.Field] = append(out[v.Field], v.Message)
	}
	return out
}

// ErrOrNil returns e as an error only when it has violations.
func (e *SchemaValidationError) ErrOrNil() error {
	if e == nil || !e.HasViolations() {
		return nil
	}
	return e
}

func (e *SchemaValidationError) Error() string {
	switch len(e.Violations) {
	case 0:
		return ErrSchemaValidation.Error()
	case 1:
		v := e.Violations[0]
		return fmt.Sprintf("%s: %s: %s", ErrSchemaValidation, v.Field, v.Message)
	}
	return fmt.Sprintf("%s: %d violations", ErrSchemaValidation, len(e.Violations))
}

func (e *SchemaValidationError) Is(target error) bool { return target == ErrSchemaValidation }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	Key    string
}

// NotFound builds a NotFoundError.
func NotFound(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PathConflictError reports a duplicate unique path.
type PathConflictError struct {
	Entity string
	Path   string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("%s path %q already exists", e.Entity, e.Path)
}

func (e *PathConflictError) Is(target error) bool { return target == ErrPathConflict }

// Side identifies which limit a CardinalityExceededError hit.
type Side string

const (
	SideModel      Side = "model"
	SideRelated    Side = "related"
	SideOverall    Side = "overall"
	SideCollection Side = "collection"
	SideUpload     Side = "upload"
)

// CardinalityExceededError reports the limit that would have been exceeded.
type CardinalityExceededError struct {
	Subject string
	Side    Side
	Limit   int
}

func (e *CardinalityExceededError) Error() string {
	return fmt.Sprintf("%s: %s %s limit of %d reached", ErrCardinalityExceeded, e.Subject, e.Side, e.Limit)
}

func (e *CardinalityExceededError) Is(target error) bool { return target == ErrCardinalityExceeded }

// RelationIntegrityError reports an invalid relation edge.
type RelationIntegrityError struct {
	RelationType string
	Reason       string
}

// RelationIntegrity builds a RelationIntegrityError.
func RelationIntegrity(relationType, format string, args ...any) error {
	return &RelationIntegrityError{RelationType: relationType, Reason: fmt.Sprintf(format, args...)}
}

func (e *RelationIntegrityError) Error() string {
	return fmt.Sprintf("relation %q: %s", e.RelationType, e.Reason)
}

func (e *RelationIntegrityError) Is(target error) bool { return target == ErrRelationIntegrity }

// ImmutableError reports an attempt to change a protected entity.
type ImmutableError struct {
	Entity string
	ID     string
	Reason string
}

// Immutable builds an ImmutableError.
func Immutable(entity string, id any, reason string) error {
	return &ImmutableError{Entity: entity, ID: fmt.Sprint(id), Reason: reason}
}

func (e *ImmutableError) Error() string {
	return fmt.Sprintf("%s %s is %s", e.Entity, e.ID, e.Reason)
}

func (e *ImmutableError) Is(target error) bool { return target == ErrImmutable }

// SchemaCycleError carries the chain of type names that loops back on itself.
type SchemaCycleError struct {
	Chain []string
}

func (e *SchemaCycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSchemaCycle, strings.Join(e.Chain, " -> "))
}

func (e *SchemaCycleError) Is(target error) bool { return target == ErrSchemaCycle }

// Invalid wraps ErrInvalidInput with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsNotFound returns true if err is a not-found error
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsSchemaValidation returns true if err carries schema violations
func IsSchemaValidation(err error) bool { return errors.Is(err, ErrSchemaValidation) }

// IsPathConflict returns true if err is a path conflict
func IsPathConflict(err error) bool { return errors.Is(err, ErrPathConflict) }

// IsCardinalityExceeded returns true if err is a cardinality error
func IsCardinalityExceeded(err error) bool { return errors.Is(err, ErrCardinalityExceeded) }

// IsRelationIntegrity returns true if err is a relation integrity error
func IsRelationIntegrity(err error) bool { return errors.Is(err, ErrRelationIntegrity) }

// IsImmutable returns true if err is an immutability error
func IsImmutable(err error) bool { return errors.Is(err, ErrImmutable) }

// IsSchemaCycle returns true if err is a schema cycle error
func IsSchemaCycle(err error) bool { return errors.Is(err, ErrSchemaCycle) }
