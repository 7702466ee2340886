package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/utafrali/campusfeed/pkg/errors"
	"github.com/utafrali/campusfeed/pkg/logger"
	"github.com/utafrali/campusfeed/pkg/validator"
)

// DetailResponse is the body written for errors that are not tied to a field.
type DetailResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// FieldErrors is written as a JSON object mapping each field to a list of
// messages. Keys keep slice order.
type FieldErrors []apperrors.FieldError

// MarshalJSON encodes the fields in order, grouping repeated fields.
func (f FieldErrors) MarshalJSON() ([]byte, error) {
	order := make([]string, 0, len(f))
	grouped := make(map[string][]string, len(f))
	for _, fe := range f {
		if _, seen := grouped[fe.Field]; !seen {
			order = append(order, fe.Field)
		}
		grouped[fe.Field] = append(grouped[fe.Field], fe.Message)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field)
		if err != nil {
			return nil, err
		}
		msgs, err := json.Marshal(grouped[field])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(msgs)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// WriteJSON writes a JSON response with the given status code.
// If encoding fails, the error is logged but headers are already sent so nothing can be done.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDetail writes {"detail": message}.
func WriteDetail(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, DetailResponse{Detail: message})
}

// WriteError writes an error body based on the error type. AppErrors with
// field messages become a field object; everything else becomes a detail
// body. Internal errors are logged with the request-scoped logger when the
// RequestLogger middleware is mounted, otherwise with fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() {
		l = fallback
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := apperrors.HTTPStatus(err)
		if len(appErr.Fields) > 0 {
			WriteJSON(w, status, FieldErrors(appErr.Fields))
			return
		}
		if status == http.StatusInternalServerError {
			logInternal(l, r, err)
		}
		WriteJSON(w, status, DetailResponse{Detail: appErr.Message, Code: strings.ToLower(appErr.Code)})
		return
	}

	status := apperrors.HTTPStatus(err)
	message := "A server error occurred."

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		message = "Not found."
	case errors.Is(err, apperrors.ErrConflict):
		message = "Resource already exists."
	case errors.Is(err, apperrors.ErrInvalidInput):
		message = err.Error()
	case errors.Is(err, apperrors.ErrUnauthorized):
		message = "Authentication credentials were not provided."
	case errors.Is(err, apperrors.ErrForbidden), errors.Is(err, apperrors.ErrNotVerified):
		message = "You do not have permission to perform this action."
	}

	if status == http.StatusInternalServerError {
		logInternal(l, r, err)
	}

	WriteDetail(w, status, message)
}

func logInternal(l *slog.Logger, r *http.Request, err error) {
	l.ErrorContext(r.Context(), "internal error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
}

// WriteValidationError writes a 400 response. Validator failures become a
// field object; any other error becomes a detail body.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, FieldErrors(valErr.Fields()))
		return
	}
	WriteDetail(w, http.StatusBadRequest, err.Error())
}

// ParseID parses a positive integer path parameter. On failure it writes a
// 404 and returns false, signaling the caller to return early.
func ParseID(w http.ResponseWriter, param string) (int64, bool) {
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id <= 0 {
		WriteDetail(w, http.StatusNotFound, "Not found.")
		return 0, false
	}
	return id, true
}
