package obsws

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned by request operations issued before the
	// server acknowledged the Identify frame.
	ErrNotAuthenticated = errors.New("obsws: not authenticated")

	// ErrNotConnected is returned when no socket is open.
	ErrNotConnected = errors.New("obsws: not connected")
)

// AuthError reports that the server rejected the authentication string. It is
// emitted with [EventAuthFailed]; the caller decides whether to retry.
type AuthError struct {
	Code   int
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("obsws: authentication rejected (code %d): %s", e.Code, e.Reason)
}

// TransportError wraps a socket-level failure. It is emitted with
// [EventError] and never returned from event handlers.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("obsws: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestError reports a request the server answered with a failed status.
// It is emitted with [EventRequestFailed].
type RequestError struct {
	RequestType string
	RequestID   string
	Status      RequestStatus
}

func (e *RequestError) Error() string {
	if e.Status.Comment != "" {
		return fmt.Sprintf("obsws: %s failed (code %d): %s", e.RequestType, e.Status.Code, e.Status.Comment)
	}
	return fmt.Sprintf("obsws: %s failed (code %d)", e.RequestType, e.Status.Code)
}
