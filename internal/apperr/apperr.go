// Package apperr defines the error taxonomy shared by the gateway, the consumer
// runtime, and the handlers.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrBadPayload          = errors.New("bad payload")
	ErrRateLimited         = errors.New("rate limited")
	ErrNotFound            = errors.New("not found")
	ErrTransient           = errors.New("transient remote failure")
	ErrDeclined            = errors.New("order declined")
	ErrPostingFailed       = errors.New("order posting failed")
	ErrCompensationAborted = errors.New("compensation aborted")
	ErrInconsistent        = errors.New("data inconsistency")
)

// Kind names the error class used in logs and in the error summary.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrBadPayload),
		errors.Is(err, ErrRateLimited):
		return "validation"

	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return "transient"

	case errors.Is(err, ErrCompensationAborted):
		return "compensation"

	case errors.Is(err, ErrPostingFailed):
		return "posting"

	case errors.Is(err, ErrInconsistent):
		return "inconsistency"

	case errors.Is(err, ErrDeclined):
		return "declined"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "handler"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, ErrBadPayload):
		return http.StatusBadRequest

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}
