package kite

import (
	"encoding/json"
	"fmt"
)

// AuthError is returned when the broker rejects a negotiation step. Code is
// the HTTP status, ErrType and Message come from the response body's
// error_type/message fields where the broker returned JSON.
type AuthError struct {
	Code    int
	ErrType string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.ErrType, e.Message)
}

// newAuthError builds an AuthError from a non-200 broker response body.
// The broker reports failures as {"error_type": ..., "message": ...}; bodies
// that are not JSON still produce a usable error carrying the status.
func newAuthError(status int, body []byte) *AuthError {
	var payload struct {
		ErrorType string `json:"error_type"`
		Message   string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	if payload.ErrorType == "" {
		payload.ErrorType = "AuthException"
	}
	if payload.Message == "" {
		payload.Message = string(body)
	}
	return &AuthError{Code: status, ErrType: payload.ErrorType, Message: payload.Message}
}

// protocolError marks a 200/302 response that violates the broker contract,
// such as a missing cookie, JSON field or Location parameter.
func protocolError(format string, args ...any) *AuthError {
	return &AuthError{
		Code:    500,
		ErrType: "AuthException",
		Message: fmt.Sprintf(format, args...),
	}
}

// TotpError is returned when a two-factor code cannot be derived from the
// shared secret. The underlying cause (typically a base32 decode failure)
// is preserved and reachable via errors.Unwrap.
type TotpError struct {
	Message string
	cause   error
}

func (e *TotpError) Error() string {
	return fmt.Sprintf("[500] TotpException: %s", e.Message)
}

func (e *TotpError) Unwrap() error { return e.cause }

// TransportError is returned for network-level failures: DNS, connect,
// timeout. These are distinct from broker rejections so callers can retry
// the whole negotiation without treating the session as rejected.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
