// Package apierror provides standardized error response structures for the API.
// All errors returned to clients go through this package to ensure consistency
// and to prevent leaking internal details (stack traces, DB errors, etc.).
package apierror

import (
	"net/http"

	"turnopos/internal/model"
)

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func New(kind, msg string) *APIError {
	return &APIError{Kind: kind, Detail: msg}
}

// Validation wraps multiple field errors.
type ValidationError struct {
	Kind   string            `json:"kind"`
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Kind: model.KindValidation.String(), Detail: "Error de validacion", Fields: fields}
}

// FromError maps a ledger error to its HTTP status and a client-safe body.
// Storage causes and unclassified errors are never echoed back.
func FromError(err error) (int, *APIError) {
	kind := model.KindOf(err)
	switch kind {
	case model.KindValidation:
		return http.StatusUnprocessableEntity, New(kind.String(), model.Message(err))
	case model.KindInvalidState:
		return http.StatusBadRequest, New(kind.String(), model.Message(err))
	case model.KindNotFound:
		return http.StatusNotFound, New(kind.String(), model.Message(err))
	case model.KindStorage:
		return http.StatusServiceUnavailable, New(kind.String(), model.Message(err))
	default:
		return http.StatusInternalServerError, New(kind.String(), "Error interno del servidor")
	}
}
