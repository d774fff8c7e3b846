// Package envelope decodes the tagged success/failure wrapper the console
// backend returns for JSON endpoints and converts failures into typed errors.
package envelope

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Kind classifies a NormalizedError for downstream branching.
type Kind string

const (
	// KindEnvelope means the server explicitly returned success=false.
	KindEnvelope Kind = "envelope"
	// KindTransport means no response reached the client at all.
	KindTransport Kind = "transport"
	// KindRefresh means the token refresh endpoint failed or returned no token.
	KindRefresh Kind = "refresh"
	// KindForbidden means the server answered HTTP 403.
	KindForbidden Kind = "forbidden"
)

// fallbackMessage is used when a failure envelope carries no usable message.
const fallbackMessage = "Request failed"

// Envelope is the wire-level discriminated payload. Success is a pointer so
// that an absent field can be told apart from an explicit false.
type Envelope struct {
	Success       *bool           `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	Code          string          `json:"code,omitempty"`
	Message       string          `json:"message,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Errors        []string        `json:"errors,omitempty"`
	Err           *nestedError    `json:"error,omitempty"`
}

type nestedError struct {
	Message string `json:"message,omitempty"`
}

// NormalizedError is the single error shape the client core surfaces to
// callers. Code and CorrelationID are preserved so the caller can localize a
// user-facing message.
type NormalizedError struct {
	Kind          Kind
	Message       string
	Code          string
	CorrelationID string
	Errors        []string
	HTTPStatus    int
}

func (e *NormalizedError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Code != "" {
		b.WriteString(" (code=")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	return b.String()
}

// Transport wraps a transport-level failure (timeout, DNS, connection reset)
// that never produced a response body.
func Transport(err error) *NormalizedError {
	return &NormalizedError{Kind: KindTransport, Message: err.Error()}
}

// Normalize inspects a JSON response body. Bodies that are not envelopes
// (not an object, or no success field) pass through unchanged unless the
// HTTP status itself indicates failure. A success=false envelope becomes a
// *NormalizedError; a success envelope unwraps to its data payload.
//
// Binary responses must never reach this function; the pipeline bypasses
// normalization for them.
func Normalize(status int, body []byte) (json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Success == nil {
		// Not an envelope. Raw payloads from 2xx endpoints pass through;
		// anything else is a failure with whatever the status line says.
		if status >= http.StatusBadRequest {
			return nil, &NormalizedError{
				Kind:       KindEnvelope,
				Message:    statusMessage(status),
				HTTPStatus: status,
			}
		}
		return json.RawMessage(body), nil
	}

	if *env.Success {
		if len(env.Data) > 0 {
			return env.Data, nil
		}
		return json.RawMessage(body), nil
	}

	return nil, &NormalizedError{
		Kind:          KindEnvelope,
		Message:       failureMessage(&env),
		Code:          env.Code,
		CorrelationID: env.CorrelationID,
		Errors:        env.Errors,
		HTTPStatus:    status,
	}
}

// Failure always produces a *NormalizedError for a failed HTTP response,
// reusing the envelope fields when the body happens to carry one.
func Failure(status int, body []byte) *NormalizedError {
	if _, err := Normalize(status, body); err != nil {
		var nerr *NormalizedError
		if errors.As(err, &nerr) {
			return nerr
		}
	}
	return &NormalizedError{
		Kind:       KindEnvelope,
		Message:    statusMessage(status),
		HTTPStatus: status,
	}
}

func failureMessage(env *Envelope) string {
	if env.Message != "" {
		return env.Message
	}
	if env.Err != nil && env.Err.Message != "" {
		return env.Err.Message
	}
	return fallbackMessage
}

func statusMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fallbackMessage
}
