package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind classifies a client-visible error.
type Kind string

const (
	KindMalformed   Kind = "malformed_request"
	KindTooLarge    Kind = "request_too_large"
	KindRateLimited Kind = "rate_limited"
	KindOverflow    Kind = "backpressure_overflow"
	KindInternal    Kind = "internal_error"
)

// Error is the domain branch of the gateway's error taxonomy: its kind,
// status and message pass through to the client verbatim. Any other error
// maps to KindInternal with the detail stripped.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// NewError builds a client-visible error.
func NewError(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

// AsError resolves any error to the client-visible form. Tagged errors pass
// through; everything else becomes a generic internal error, so wrapped
// detail never leaks to clients. Callers log the original before mapping.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: "internal error"}
}

// errorPayload is the JSON body of an error response on either protocol.
type errorPayload struct {
	Code  Kind   `json:"code"`
	Error string `json:"error"`
}

// encodeError serializes the client-visible error body.
func encodeError(e *Error) []byte {
	b, err := json.Marshal(errorPayload{Code: e.Kind, Error: e.Message})
	if err != nil {
		return []byte(`{"code":"internal_error","error":"internal error"}`)
	}
	return b
}
