package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels. Every AppError built here wraps one of them, so callers match
// with errors.Is instead of comparing codes.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrTransport      = errors.New("transport failure")
	ErrSessionExpired = errors.New("session expired")
	ErrNotVerified    = errors.New("account not verified")
)

// FieldError is one field-level message, kept in the order the server sent.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError is an error with a stable code, a displayable message and, when
// it came from (or maps to) an HTTP response, a status.
type AppError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
	Status  int          `json:"-"`
	Err     error        `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

type statusKind struct {
	code     string
	sentinel error
}

var byStatus = map[int]statusKind{
	http.StatusBadRequest:   {"INVALID_INPUT", ErrInvalidInput},
	http.StatusUnauthorized: {"UNAUTHORIZED", ErrUnauthorized},
	http.StatusForbidden:    {"FORBIDDEN", ErrForbidden},
	http.StatusNotFound:     {"NOT_FOUND", ErrNotFound},
	http.StatusConflict:     {"CONFLICT", ErrConflict},
}

// FromStatus builds the AppError for an HTTP error status. 5xx statuses wrap
// ErrServiceUnavail; statuses without a sentinel get an HTTP_<n> code.
func FromStatus(status int, message string) *AppError {
	e := &AppError{Message: message, Status: status}
	switch k, ok := byStatus[status]; {
	case ok:
		e.Code, e.Err = k.code, k.sentinel
	case status >= 500:
		e.Code, e.Err = "SERVER_ERROR", ErrServiceUnavail
	default:
		e.Code = fmt.Sprintf("HTTP_%d", status)
	}
	return e
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return FromStatus(http.StatusNotFound, fmt.Sprintf("%s with id %s not found", resource, id))
}

func InvalidInput(message string) *AppError {
	return FromStatus(http.StatusBadRequest, message)
}

// Validation carries field messages; the first one becomes the message.
func Validation(fields []FieldError) *AppError {
	e := FromStatus(http.StatusBadRequest, "request validation failed")
	e.Code = "VALIDATION_ERROR"
	e.Fields = fields
	if len(fields) > 0 {
		e.Message = fields[0].Message
	}
	return e
}

func Unauthorized(message string) *AppError {
	return FromStatus(http.StatusUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return FromStatus(http.StatusForbidden, message)
}

func Conflict(message string) *AppError {
	return FromStatus(http.StatusConflict, message)
}

// Transport wraps a failure where no response arrived: DNS, refused
// connection, timeout or an open circuit. It has no status.
func Transport(err error) *AppError {
	return &AppError{
		Code:    "TRANSPORT_ERROR",
		Message: "the server could not be reached",
		Err:     fmt.Errorf("%w: %w", ErrTransport, err),
	}
}

// SessionExpired reports a session that can no longer be refreshed.
func SessionExpired(message string) *AppError {
	return &AppError{
		Code:    "SESSION_EXPIRED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrSessionExpired,
	}
}

// NotVerified rejects an action reserved to admin-approved accounts.
func NotVerified() *AppError {
	return &AppError{
		Code:    "NOT_VERIFIED",
		Message: "your account is pending admin approval",
		Status:  http.StatusForbidden,
		Err:     ErrNotVerified,
	}
}

// HTTPStatus returns the status to answer with for err. An AppError's own
// status wins; otherwise the wrapped sentinel decides, and anything unknown
// is a 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	for status, k := range byStatus {
		if errors.Is(err, k.sentinel) {
			return status
		}
	}
	switch {
	case errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotVerified):
		return http.StatusForbidden
	case errors.Is(err, ErrServiceUnavail), errors.Is(err, ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
