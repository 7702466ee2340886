package errors

import (
	"context"
	"errors"
)

// Kind groups errors by how a client surface reacts to them.
type Kind string

const (
	KindTransport  Kind = "transport"
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindOther      Kind = "other"
)

// Generic messages shown when an error carries nothing more specific.
const (
	MsgTransport = "Network error. Please check your connection and try again."
	MsgSession   = "Your session has expired. Please log in again."
)

// KindOf classifies err. Context cancellation counts as a transport failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, ErrTransport), errors.Is(err, ErrServiceUnavail),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransport
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrSessionExpired):
		return KindAuth
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	default:
		return KindOther
	}
}

// FirstMessage returns the first field message of a validation error, or the
// AppError message. Empty for errors that are not AppErrors.
func FirstMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ""
	}
	for _, f := range appErr.Fields {
		if f.Message != "" {
			return f.Message
		}
	}
	return appErr.Message
}

// UserMessage picks the text to display for err. Backend messages win over
// fallback; transport and expired-session failures get generic wording.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindTransport:
		return MsgTransport
	case KindAuth:
		if errors.Is(err, ErrSessionExpired) {
			return MsgSession
		}
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		if msg := FirstMessage(err); msg != "" {
			return msg
		}
	}
	return fallback
}
