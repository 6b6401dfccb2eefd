package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// ErrProviderUnavailable wraps a transient billing-provider failure. The cache
// is never mutated on this path; callers surface it and let the client retry.
func ErrProviderUnavailable(msg string, err error) *AppError {
	return &AppError{Code: http.StatusBadGateway, Message: msg, Err: err}
}

// Cancellation precondition failures. These are sentinels so callers can
// distinguish them with errors.Is; neither is retried automatically.
var (
	// ErrNotSubscribed: the local record does not show an entitled status,
	// so no provider call is made.
	ErrNotSubscribed = &AppError{Code: http.StatusNotFound, Message: "no active subscription found for this user"}

	// ErrNotFoundUpstream: the local record claimed entitlement but the
	// provider scan found no live handle; the cache has been self-healed
	// to inactive.
	ErrNotFoundUpstream = &AppError{Code: http.StatusNotFound, Message: "no active subscription found at the billing provider for this user"}
)

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
