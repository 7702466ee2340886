package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/campusfeed/pkg/errors"
)

// envelopeError mirrors the {"error": {...}} envelope written by pkg/httputil.
type envelopeError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an AppError. Two body shapes are understood: the {"error": {...}}
// envelope and REST-framework style objects ({"detail": "..."} or
// {"field": ["message", ...]}). Field order from the body is preserved.
//
// The caller should only invoke this when resp.StatusCode indicates an error
// (i.e., not 2xx). The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var env envelopeError
	if json.Unmarshal(bodyBytes, &env) == nil && env.Error != nil {
		return mapStatus(resp.StatusCode, env.Error.Code, env.Error.Message, nil)
	}

	if detail, fields, ok := parseFrameworkBody(bodyBytes); ok {
		return mapStatus(resp.StatusCode, "", detail, fields)
	}

	// Fallback: unstructured error body.
	return mapStatus(resp.StatusCode, "", fmt.Sprintf("%s returned status %d", serviceName, resp.StatusCode), nil)
}

// parseFrameworkBody walks a JSON object in document order. "detail" becomes
// the message; any other key becomes a field error carrying its first message.
func parseFrameworkBody(body []byte) (string, []apperrors.FieldError, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return "", nil, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return "", nil, false
	}

	var detail string
	var fields []apperrors.FieldError
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return "", nil, false
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return "", nil, false
		}
		// {"detail": "...", "code": "not_found"} carries a machine code
		// next to the message; field errors are always lists.
		if key == "code" && isJSONString(raw) {
			continue
		}
		msg := firstString(raw)
		if msg == "" {
			continue
		}
		if key == "detail" {
			detail = msg
			continue
		}
		fields = append(fields, apperrors.FieldError{Field: key, Message: msg})
	}

	if detail == "" && len(fields) == 0 {
		return "", nil, false
	}
	return detail, fields, true
}

func isJSONString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

// firstString returns the first string found in a JSON string, array or object.
func firstString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		for _, item := range list {
			if v := firstString(item); v != "" {
				return v
			}
		}
		return ""
	}
	if _, fields, ok := parseFrameworkBody(raw); ok && len(fields) > 0 {
		return fields[0].Message
	}
	return ""
}

// mapStatus builds the AppError for a failed response. Field messages on a
// 4xx other than 401 make it a validation error.
func mapStatus(status int, code, message string, fields []apperrors.FieldError) error {
	var appErr *apperrors.AppError
	if len(fields) > 0 && status >= 400 && status < 500 && status != http.StatusUnauthorized {
		appErr = apperrors.Validation(fields)
		appErr.Status = status
		if message != "" {
			appErr.Message = message
		}
	} else {
		appErr = apperrors.FromStatus(status, message)
	}

	if code != "" {
		appErr.Code = code
	}
	return appErr
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
