// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/distrochain/distrochain/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title := Classify(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	Problem(w, status, title, detail)
}

// Classify returns the HTTP status and problem title for err.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrLocked):
		return http.StatusConflict, "Locked"
	case errors.Is(err, shared.ErrIntegrity):
		return http.StatusUnprocessableEntity, "Integrity Violation"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
