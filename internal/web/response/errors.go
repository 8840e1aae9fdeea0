package response

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/errs"
)

// ErrorBody is the body of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes what went wrong.
type ErrorDetail struct {
	Code       string           `json:"code"`
	Message    string           `json:"message"`
	Violations []errs.Violation `json:"violations,omitempty"`
	Side       errs.Side        `json:"side,omitempty"`
	Limit      *int             `json:"limit,omitempty"`
}

// Status maps an engine error onto an HTTP status and an error code.
func Status(err error) (int, string) {
	switch {
	case errs.IsSchemaValidation(err):
		return http.StatusUnprocessableEntity, "schema_validation"
	case errs.IsSchemaCycle(err):
		return http.StatusUnprocessableEntity, "schema_cycle"
	case errs.IsRelationIntegrity(err):
		return http.StatusUnprocessableEntity, "relation_integrity"
	case errs.IsPathConflict(err), errors.Is(err, errs.ErrUniqueViolation):
		return http.StatusConflict, "path_conflict"
	case errs.IsCardinalityExceeded(err):
		return http.StatusConflict, "cardinality_exceeded"
	case errors.Is(err, errs.ErrOptimisticLockFailed):
		return http.StatusConflict, "optimistic_lock_failed"
	case errs.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errs.IsImmutable(err):
		return http.StatusLocked, "immutable"
	case errors.Is(err, errs.ErrConfirmationRequired):
		return http.StatusPreconditionRequired, "confirmation_required"
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	}
	return http.StatusInternalServerError, "internal_error"
}

// Error writes err with the status Status picks. Internal errors are logged
// and their message is not exposed.
func Error(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code := Status(err)
	detail := ErrorDetail{Code: code, Message: err.Error()}

	var verr *errs.SchemaValidationError
	if errors.As(err, &verr) {
		detail.Violations = verr.Violations
	}
	var cerr *errs.CardinalityExceededError
	if errors.As(err, &cerr) {
		detail.Side = cerr.Side
		limit := cerr.Limit
		detail.Limit = &limit
	}
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", zap.Error(err))
		}
		detail.Message = "internal server error"
	}
	JSON(w, status, ErrorBody{Error: detail})
}

// Message writes an error that did not come from the engine.
func Message(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}
