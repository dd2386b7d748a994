// Package lnvpserr defines the error taxonomy shared by every lnvpsd
// component. Errors carry a Kind that tells callers whether the failure is
// retryable, and HTTP handlers map Kind to a status code without needing to
// know which component raised it.
package lnvpserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and HTTP-status purposes.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindUniqueViolation   Kind = "unique_violation"
	KindAuth              Kind = "auth"
	KindConflict          Kind = "conflict"
	KindCapacityExhausted Kind = "capacity_exhausted"
	KindTransientRemote   Kind = "transient_remote"
	KindTerminalRemote    Kind = "terminal_remote"
	KindFatal             Kind = "fatal"
)

// retryable reports the default retryability of each Kind. UniqueViolation
// is situational (the IP allocator retries it, most callers don't) so it is
// not retryable by default; call sites that want the allocator's behavior
// check the Kind directly instead of Retryable().
var retryable = map[Kind]bool{
	KindValidation:        false,
	KindNotFound:          false,
	KindUniqueViolation:   false,
	KindAuth:              false,
	KindConflict:          false,
	KindCapacityExhausted: false,
	KindTransientRemote:   true,
	KindTerminalRemote:    false,
	KindFatal:             false,
}

// Error is the typed error value propagated through the Provisioner and
// returned by every component's public functions.
type Error struct {
	Kind    Kind
	Message string
	Source  error
}

func (e *Error) Error() string {
	if e.Source != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Source }

// Retryable reports whether the step that produced this error should be
// retried per the provisioner's retry policy.
func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around a source error.
func Wrap(kind Kind, message string, source error) *Error {
	return &Error{Kind: kind, Message: message, Source: source}
}

// Validation, NotFound, ... are convenience constructors for the common
// kinds so call sites read naturally, e.g. lnvpserr.NotFound("vm %d", id).
func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func UniqueViolation(format string, args ...any) *Error {
	return New(KindUniqueViolation, fmt.Sprintf(format, args...))
}

func Auth(format string, args ...any) *Error {
	return New(KindAuth, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func CapacityExhausted(format string, args ...any) *Error {
	return New(KindCapacityExhausted, fmt.Sprintf(format, args...))
}

func TransientRemote(source error, format string, args ...any) *Error {
	return Wrap(KindTransientRemote, fmt.Sprintf(format, args...), source)
}

func TerminalRemote(source error, format string, args ...any) *Error {
	return Wrap(KindTerminalRemote, fmt.Sprintf(format, args...), source)
}

func Fatal(source error, format string, args ...any) *Error {
	return Wrap(KindFatal, fmt.Sprintf(format, args...), source)
}

// Is reports whether err (or any error it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindFatal for errors that
// were never classified (a programming omission worth surfacing loudly).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// RetryableErr reports whether err should be retried by a pipeline step.
func RetryableErr(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
