// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-dma.

package api

import "fmt"

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeBadArgument
	ErrCodeAlreadyStarted
	ErrCodeInvalidSequence
	ErrCodeNotSupported
	ErrCodeNotConfigured
	ErrCodeTimeout
	ErrCodeAborted
	ErrCodeDMAFailure
	ErrCodeMutexFailure
	ErrCodeResourceExhausted
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeInternal
)

var codeNames = [...]string{
	ErrCodeOK:                "ok",
	ErrCodeBadArgument:       "bad argument",
	ErrCodeAlreadyStarted:    "already started",
	ErrCodeInvalidSequence:   "invalid sequence",
	ErrCodeNotSupported:      "not supported",
	ErrCodeNotConfigured:     "not configured",
	ErrCodeTimeout:           "timeout",
	ErrCodeAborted:           "aborted",
	ErrCodeDMAFailure:        "dma failure",
	ErrCodeMutexFailure:      "mutex failure",
	ErrCodeResourceExhausted: "resource exhausted",
	ErrCodeAlreadyExists:     "already exists",
	ErrCodeNotFound:          "not found",
	ErrCodeInternal:          "internal error",
}

func (c ErrorCode) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Common errors used across the library.
// Compare with errors.Is: any *Error carrying the same code matches.
var (
	ErrBadArgument       = NewError(ErrCodeBadArgument, "bad argument")
	ErrAlreadyStarted    = NewError(ErrCodeAlreadyStarted, "channel already started")
	ErrInvalidSequence   = NewError(ErrCodeInvalidSequence, "operation not valid for channel type")
	ErrNotSupported      = NewError(ErrCodeNotSupported, "operation not supported")
	ErrNotConfigured     = NewError(ErrCodeNotConfigured, "channel not configured")
	ErrTimeout           = NewError(ErrCodeTimeout, "operation timeout")
	ErrAborted           = NewError(ErrCodeAborted, "channel aborted")
	ErrDMAFailure        = NewError(ErrCodeDMAFailure, "dma transfer failure")
	ErrMutexFailure      = NewError(ErrCodeMutexFailure, "failed to acquire channel lock")
	ErrResourceExhausted = NewError(ErrCodeResourceExhausted, "resource exhausted")
	ErrAlreadyExists     = NewError(ErrCodeAlreadyExists, "resource already exists")
	ErrNotFound          = NewError(ErrCodeNotFound, "resource not found")
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Errorf builds an *Error of the given code with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithContext returns a copy of the error carrying an extra context value.
// Sentinels are never mutated.
func (e *Error) WithContext(key string, value any) *Error {
	out := &Error{Code: e.Code, Message: e.Message, Context: make(map[string]any, len(e.Context)+1)}
	for k, v := range e.Context {
		out.Context[k] = v
	}
	out.Context[key] = value
	return out
}

