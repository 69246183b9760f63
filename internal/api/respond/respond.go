// Package respond writes JSON responses and maps domain errors to HTTP status codes.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/drfirst/rxledger/internal/domain"
)

// ErrorBody is the body of every error response.
type ErrorBody struct {
	Error string      `json:"error"`
	Code  domain.Kind `json:"code"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Status maps an error kind to its HTTP status.
func Status(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err with the status of its kind. Internal errors are not
// echoed to the client.
func Error(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	msg := err.Error()
	var de *domain.Error
	if kind == domain.KindInternal || !errors.As(err, &de) {
		kind = domain.KindInternal
		msg = "internal server error"
	}
	JSON(w, Status(kind), ErrorBody{Error: msg, Code: kind})
}

// Message writes a plain error message with an explicit status and kind.
func Message(w http.ResponseWriter, status int, kind domain.Kind, msg string) {
	JSON(w, status, ErrorBody{Error: msg, Code: kind})
}
