package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrDomainNotAllowed    ErrorType = "DOMAIN_NOT_ALLOWED"
	ErrRateLimitExceeded   ErrorType = "RATE_LIMIT_EXCEEDED"
	ErrAuthFailed          ErrorType = "AUTH_FAILED"
	ErrInvalidRequest      ErrorType = "INVALID_REQUEST"
	ErrNotFound            ErrorType = "NOT_FOUND"
	ErrConflict            ErrorType = "CONFLICT"
	ErrReadOnly            ErrorType = "READ_ONLY"
	ErrRegistryUnavailable ErrorType = "REGISTRY_UNAVAILABLE"
	ErrInternal            ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType      `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Cause      error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails returns e with extra machine-readable fields merged in.
func (e *AppError) WithDetails(kv map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		e.Details[k] = v
	}
	return e
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
	}
}

func NewDomainNotAllowed(msg string) *AppError {
	return New(ErrDomainNotAllowed, msg, nil)
}

// NewRateLimited carries the retry hint in details as retryAfter seconds.
func NewRateLimited(retryAfter int) *AppError {
	return New(ErrRateLimitExceeded, "Too many requests, please retry later", nil).
		WithDetails(map[string]any{"retryAfter": retryAfter})
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func NewConflict(msg string) *AppError {
	return New(ErrConflict, msg, nil)
}

func NewRegistryUnavailable(cause error) *AppError {
	return New(ErrRegistryUnavailable, "Shop registry unavailable", cause)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, "Internal server error", err)
}

// Envelope is the JSON body of every error response.
func (e *AppError) Envelope() map[string]any {
	body := map[string]any{
		"code":    e.Type,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	return map[string]any{"success": false, "error": body}
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrDomainNotAllowed:
		return http.StatusForbidden
	case ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrReadOnly:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrRegistryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
