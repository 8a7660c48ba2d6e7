package http

import (
	"fmt"
	"net/http"
)

// AppError is an error carrying the HTTP status it should be rendered
// with. Handlers map storage and upstream failures onto AppErrors and
// hand them to AppErrorResponse; the client only ever sees Message.
type AppError struct {
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithError attaches the underlying cause for logging.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// NotFoundError creates a 404 error.
func NotFoundError(message string) *AppError {
	return &AppError{Message: message, Status: http.StatusNotFound}
}

// BadRequestError creates a 400 error.
func BadRequestError(message string) *AppError {
	return &AppError{Message: message, Status: http.StatusBadRequest}
}

// UnavailableError creates a 503 error.
func UnavailableError(message string) *AppError {
	return &AppError{Message: message, Status: http.StatusServiceUnavailable}
}

// TooManyRequestsError creates a 429 error.
func TooManyRequestsError(message string) *AppError {
	return &AppError{Message: message, Status: http.StatusTooManyRequests}
}

// InternalError creates a 500 error.
func InternalError(message string) *AppError {
	return &AppError{Message: message, Status: http.StatusInternalServerError}
}
