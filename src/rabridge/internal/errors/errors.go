// Package errors defines the bridge's error taxonomy. Transport and process
// level faults are fatal to the session; per-call failures stay local to the
// call that triggered them.
package errors

import (
	stderr "errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

// SpawnError reports that the backend executable could not be started.
type SpawnError struct {
	Command string
	Err     error
}

// Error is an implementation of the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning backend %q: %v", e.Command, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SpawnError) Unwrap() error { return e.Err }

// FramingError reports a malformed transport stream. It is fatal: the byte
// stream cannot be resynchronized once a frame boundary is lost.
type FramingError struct {
	Reason string
	Err    error
}

// Error is an implementation of the error interface.
func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport framing: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transport framing: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *FramingError) Unwrap() error { return e.Err }

// BackendCrashedError reports that the backend process exited unexpectedly.
type BackendCrashedError struct {
	ExitCode int
	Err      error
}

// Error is an implementation of the error interface.
func (e *BackendCrashedError) Error() string {
	return fmt.Sprintf("backend exited unexpectedly with code %d", e.ExitCode)
}

// SessionNotReadyError reports a capability call made before the session
// reached Ready or while it is shutting down. The caller may retry.
type SessionNotReadyError struct {
	State string
}

// Error is an implementation of the error interface.
func (e *SessionNotReadyError) Error() string {
	return fmt.Sprintf("session is not ready (state %q)", e.State)
}

// SessionTerminatedError reports a capability call against a dead session.
type SessionTerminatedError struct{}

// Error is an implementation of the error interface.
func (e *SessionTerminatedError) Error() string {
	return "session is terminated"
}

// TimeoutError reports that a request's deadline elapsed with no response.
type TimeoutError struct {
	Method  string
	Elapsed time.Duration
}

// Error is an implementation of the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %q timed out after %s", e.Method, e.Elapsed)
}

// CancelledError reports caller-initiated cancellation of a pending request.
type CancelledError struct {
	Method string
}

// Error is an implementation of the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("request %q cancelled", e.Method)
}

// BackendError carries a protocol-level error response from the backend.
type BackendError struct {
	Code    int64
	Message string
}

// Error is an implementation of the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

// InvalidParameterError reports a bad document path, position, or workspace
// root supplied by the caller.
type InvalidParameterError struct {
	Parameter string
	Reason    string
}

// Error is an implementation of the error interface.
func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Parameter, e.Reason)
}

// NotificationTimeoutError reports that a subscription expired before any
// matching notification arrived.
type NotificationTimeoutError struct {
	Method  string
	Elapsed time.Duration
}

// Error is an implementation of the error interface.
func (e *NotificationTimeoutError) Error() string {
	return fmt.Sprintf("no %q notification within %s", e.Method, e.Elapsed)
}

// UUIDNotFoundError reports a lookup for a session id that is not stored.
type UUIDNotFoundError struct {
	UUID uuid.UUID
}

// Error is an implementation of the error interface.
func (e *UUIDNotFoundError) Error() string {
	return fmt.Sprintf("no session with uuid %s", e.UUID)
}

// NoSessionFoundError reports a context that carries no session id.
type NoSessionFoundError struct{}

// Error is an implementation of the error interface.
func (e *NoSessionFoundError) Error() string {
	return "no session found in context"
}

// IsFatal reports whether the error ends the session for every caller, as
// opposed to failing only the call that produced it.
func IsFatal(e error) bool {
	var framing *FramingError
	var crashed *BackendCrashedError
	var spawn *SpawnError
	return stderr.As(e, &framing) || stderr.As(e, &crashed) || stderr.As(e, &spawn)
}

// IsRetryable reports whether the caller may reasonably retry the same call.
func IsRetryable(e error) bool {
	var notReady *SessionNotReadyError
	var timeout *TimeoutError
	return stderr.As(e, &notReady) || stderr.As(e, &timeout)
}
