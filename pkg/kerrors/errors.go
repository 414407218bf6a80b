// Package kerrors provides the structured error taxonomy shared by every
// actor kernel. Every error the kernel hands back to a caller or records in
// an UpdateData is a *Error carrying one of the fixed Kinds below, so
// callers can dispatch on Kind instead of string-matching messages.
package kerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error classes the kernel and its collaborators
// may raise. Each Kind maps to exactly one recovery behavior, documented on
// the constant.
type Kind string

const (
	// InvalidArgument: missing or null field at a boundary. Reject the call;
	// no state change.
	InvalidArgument Kind = "invalid_argument"
	// InvalidState: operation not valid from the current state. Reject the
	// call; emit an update to reset the peer if server-side.
	InvalidState Kind = "invalid_state"
	// SequenceSmaller: a stale inbound message. Drop it; log a warning.
	SequenceSmaller Kind = "sequence_smaller"
	// SequenceInProgress: a new request arrived while one is already
	// pending. Drop it; log a warning.
	SequenceInProgress Kind = "sequence_in_progress"
	// DuplicateRequest: an inbound message repeats the current sequence
	// number. Resend the last update for ticket/lease requests, no-op for
	// relinquish.
	DuplicateRequest Kind = "duplicate_request"
	// InsufficientResources: quota or capacity exhausted. Fail the
	// reservation with a structured message.
	InsufficientResources Kind = "insufficient_resources"
	// UnauthorizedPeer: the responding peer's identity does not match the
	// reservation's recorded peer. Raise; never mutate the reservation.
	UnauthorizedPeer Kind = "unauthorized_peer"
	// NetworkError: a transient RPC failure. Retry via the RPC layer; never
	// fail the reservation unless it was closing.
	NetworkError Kind = "network_error"
	// ProtocolError: a non-recoverable RPC error. Fail the reservation with
	// the error type and message.
	ProtocolError Kind = "protocol_error"
	// InvalidTerm: an extension did not actually extend the term. Fail the
	// reservation or transition.
	InvalidTerm Kind = "invalid_term"
	// NotFound: an unknown reservation, delegation, or slice was
	// referenced. Propagate to the caller.
	NotFound Kind = "not_found"
)

// Error is the concrete error type every kernel path returns. It wraps an
// optional underlying cause and carries free-form structured details for
// logging and for UpdateData.message/events.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured detail key/value and returns e for
// chaining.
func (e *Error) WithDetails(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a bare Error of the given Kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given Kind that chains an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts the *Error from an error chain, returning nil if err is not
// (or does not wrap) a *Error.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Convenience constructors, one per Kind, mirroring the taxonomy table in
// spec §7.

func InvalidArgumentf(format string, args ...any) *Error {
	return New(InvalidArgument, fmt.Sprintf(format, args...))
}

func InvalidStatef(format string, args ...any) *Error {
	return New(InvalidState, fmt.Sprintf(format, args...))
}

func SequenceSmallerf(format string, args ...any) *Error {
	return New(SequenceSmaller, fmt.Sprintf(format, args...))
}

func SequenceInProgressf(format string, args ...any) *Error {
	return New(SequenceInProgress, fmt.Sprintf(format, args...))
}

func DuplicateRequestf(format string, args ...any) *Error {
	return New(DuplicateRequest, fmt.Sprintf(format, args...))
}

func InsufficientResourcesf(format string, args ...any) *Error {
	return New(InsufficientResources, fmt.Sprintf(format, args...))
}

func UnauthorizedPeerf(format string, args ...any) *Error {
	return New(UnauthorizedPeer, fmt.Sprintf(format, args...))
}

func NetworkErrorf(err error, format string, args ...any) *Error {
	return Wrap(NetworkError, fmt.Sprintf(format, args...), err)
}

func ProtocolErrorf(format string, args ...any) *Error {
	return New(ProtocolError, fmt.Sprintf(format, args...))
}

func InvalidTermf(format string, args ...any) *Error {
	return New(InvalidTerm, fmt.Sprintf(format, args...))
}

func NotFoundf(resource, id string) *Error {
	return New(NotFound, fmt.Sprintf("%s not found", resource)).
		WithDetails("resource", resource).
		WithDetails("id", id)
}
