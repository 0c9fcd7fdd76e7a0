package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMalformedResponse is returned when a successful response body cannot be
// decoded into the expected record.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
}

// TransportError is returned when the request never produced a response:
// connection refused, DNS failure, timeout, canceled context.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsAccountExists reports whether a sign-up failed only because the account
// is already registered. The backend answers 400 "Email already registered";
// 409 Conflict is accepted as well.
func IsAccountExists(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}

	switch se.Code {
	case http.StatusConflict:
		return true
	case http.StatusBadRequest:
		return strings.Contains(strings.ToLower(se.Detail), "already")
	default:
		return false
	}
}

// newStatusError builds a StatusError, lifting the "detail" field of an error
// body when present.
func newStatusError(code int, body []byte) *StatusError {
	return &StatusError{Code: code, Detail: errorDetail(body)}
}

func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}

	// Validation errors carry a list; keep it compact.
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload.Detail); err != nil {
		return ""
	}
	return buf.String()
}
