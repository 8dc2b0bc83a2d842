// Package errors defines the typed failures returned by every core
// operation. Callers translate the Kind into transport codes; the core never
// reports success after a failed step.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuthorization     Kind = "authorization"
	KindUnauthenticated   Kind = "unauthenticated"
	KindConflict          Kind = "conflict"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindNotFound          Kind = "not_found"
	KindRateLimited       Kind = "rate_limited"
	KindInternal          Kind = "internal"
)

var kindCodes = map[Kind]string{
	KindValidation:        "VALIDATION_ERROR",
	KindAuthorization:     "AUTHORIZATION_ERROR",
	KindUnauthenticated:   "UNAUTHENTICATED",
	KindConflict:          "CONFLICT_ERROR",
	KindInsufficientFunds: "INSUFFICIENT_FUNDS",
	KindNotFound:          "NOT_FOUND",
	KindRateLimited:       "RATE_LIMITED",
	KindInternal:          "INTERNAL_ERROR",
}

var kindStatus = map[Kind]int{
	KindValidation:        http.StatusBadRequest,
	KindAuthorization:     http.StatusForbidden,
	KindUnauthenticated:   http.StatusUnauthorized,
	KindConflict:          http.StatusConflict,
	KindInsufficientFunds: http.StatusUnprocessableEntity,
	KindNotFound:          http.StatusNotFound,
	KindRateLimited:       http.StatusTooManyRequests,
	KindInternal:          http.StatusInternalServerError,
}

// ServiceError is a classified failure with a human readable message.
type ServiceError struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Code returns the wire code for the error kind.
func (e *ServiceError) Code() string {
	if code, ok := kindCodes[e.Kind]; ok {
		return code
	}
	return kindCodes[KindInternal]
}

// HTTPStatus maps the kind onto an HTTP status.
func (e *ServiceError) HTTPStatus() int {
	if status, ok := kindStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithDetails returns the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newf(kind Kind, format string, args ...any) *ServiceError {
	return &ServiceError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input.
func Validation(format string, args ...any) *ServiceError {
	return newf(KindValidation, format, args...)
}

// Forbidden reports a role-hierarchy or ownership violation.
func Forbidden(format string, args ...any) *ServiceError {
	return newf(KindAuthorization, format, args...)
}

// Unauthorized reports a missing or invalid caller identity.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return &ServiceError{Kind: KindUnauthenticated, Message: message}
}

// InvalidToken reports a bearer token that failed verification.
func InvalidToken(err error) *ServiceError {
	return &ServiceError{Kind: KindUnauthenticated, Message: "invalid token", Err: err}
}

// Conflict reports a state that forbids the requested transition.
func Conflict(format string, args ...any) *ServiceError {
	return newf(KindConflict, format, args...)
}

// InsufficientFunds reports a debit that would leave a negative balance.
func InsufficientFunds(format string, args ...any) *ServiceError {
	return newf(KindInsufficientFunds, format, args...)
}

// NotFound reports an unknown reference.
func NotFound(entity, id string) *ServiceError {
	return (&ServiceError{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}).
		WithDetails("entity", entity).
		WithDetails("id", id)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{Kind: KindInternal, Message: message, Err: err}
}

// RateLimitExceeded reports a caller over its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return (&ServiceError{Kind: KindRateLimited, Message: "rate limit exceeded"}).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// GetServiceError extracts the first ServiceError in err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// KindOf returns the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if se := GetServiceError(err); se != nil {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap classifies err as internal unless it already carries a kind.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if GetServiceError(err) != nil {
		return err
	}
	return Internal(message, err)
}

// ParseCode maps a wire code back to its kind.
func ParseCode(code string) Kind {
	code = strings.ToUpper(strings.TrimSpace(code))
	for kind, c := range kindCodes {
		if c == code {
			return kind
		}
	}
	return KindInternal
}
