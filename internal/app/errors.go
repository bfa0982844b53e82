package app

import (
	"database/sql"
	"errors"
	"net/http"

	"mindloom/api/internal/auth"
	"mindloom/api/internal/authpw"
	"mindloom/api/internal/export"
	"mindloom/api/internal/task"
)

// DomainError is the one error shape the HTTP layer knows how to
// serialize. Everything else maps to a 500.
type DomainError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *DomainError) Error() string { return e.Message }

func validationError(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: message, Details: details}
}

func unauthorizedError(message string) *DomainError {
	return &DomainError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: message}
}

func forbiddenError(message string) *DomainError {
	return &DomainError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: message}
}

func notFoundError(message string) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: message}
}

func conflictError(message string) *DomainError {
	return &DomainError{Status: http.StatusConflict, Code: "CONFLICT", Message: message}
}

func storageError(message string) *DomainError {
	return &DomainError{Status: http.StatusInternalServerError, Code: "STORAGE_ERROR", Message: message}
}

// mapError folds lower-layer errors into the wire taxonomy.
func mapError(err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return notFoundError("Not found")
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return unauthorizedError("Invalid username or password")
	case errors.Is(err, authpw.ErrUsernameTaken):
		return conflictError("Username already taken")
	case errors.Is(err, authpw.ErrWeakPassword):
		return validationError("Password must be at least 8 characters", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return forbiddenError("Invalid token")
	case errors.Is(err, task.ErrInvalidStatus),
		errors.Is(err, task.ErrProgressRange),
		errors.Is(err, task.ErrMissingActor):
		return validationError(err.Error(), nil)
	case errors.Is(err, export.ErrUnsupportedFormat):
		return validationError("Unsupported export format", nil)
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return &DomainError{Status: http.StatusServiceUnavailable, Code: "SERVER_ERROR", Message: "PDF export unavailable"}
	default:
		return &DomainError{Status: http.StatusInternalServerError, Code: "SERVER_ERROR", Message: "Internal server error"}
	}
}
