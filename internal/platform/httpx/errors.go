// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"
)

// Kinds RespondError maps to a status code.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
	ErrTooLarge   = errors.New("request body too large")
)

type markedError struct {
	kind error
	err  error
}

func (e markedError) Error() string { return e.err.Error() }

func (e markedError) Unwrap() []error { return []error{e.kind, e.err} }

// Mark tags err with one of the sentinel kinds so RespondError can map it
// while the detail keeps the original message.
func Mark(kind, err error) error {
	if err == nil {
		return nil
	}
	return markedError{kind: kind, err: err}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Unmapped
// errors keep their detail out of the response.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrTooLarge):
		Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
