// Package plugins defines the contracts shared by every plugin and by the
// runtime that hosts them: identity and metadata, lifecycle operations,
// semantic versioning, the closed error taxonomy, and the lifecycle/resource
// event types plugins and the manager exchange.
package plugins

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode is the closed taxonomy of failure kinds a runtime operation can
// report. Never add a new value without a corresponding entry here; callers
// switch on these exhaustively.
type ErrorCode int

const (
	Success ErrorCode = iota
	UnknownError
	InvalidArgument
	InvalidParameters
	NotImplemented
	NotFound
	AlreadyExists

	FileNotFound
	FileSystemError
	PermissionDenied
	InvalidFormat

	LoadFailed
	UnloadFailed
	AlreadyLoaded
	NotLoaded
	InitializationFailed
	StateError
	ExecutionFailed
	CommandNotFound

	SecurityViolation
	ConfigurationError
	VersionMismatch
	DependencyMissing
	ResourceUnavailable
	ResourceExhausted

	NetworkError
	TimeoutError
)

var errorCodeNames = map[ErrorCode]string{
	Success:              "Success",
	UnknownError:         "UnknownError",
	InvalidArgument:      "InvalidArgument",
	InvalidParameters:    "InvalidParameters",
	NotImplemented:       "NotImplemented",
	NotFound:             "NotFound",
	AlreadyExists:        "AlreadyExists",
	FileNotFound:         "FileNotFound",
	FileSystemError:      "FileSystemError",
	PermissionDenied:     "PermissionDenied",
	InvalidFormat:        "InvalidFormat",
	LoadFailed:           "LoadFailed",
	UnloadFailed:         "UnloadFailed",
	AlreadyLoaded:        "AlreadyLoaded",
	NotLoaded:            "NotLoaded",
	InitializationFailed: "InitializationFailed",
	StateError:           "StateError",
	ExecutionFailed:      "ExecutionFailed",
	CommandNotFound:      "CommandNotFound",
	SecurityViolation:    "SecurityViolation",
	ConfigurationError:   "ConfigurationError",
	VersionMismatch:      "VersionMismatch",
	DependencyMissing:    "DependencyMissing",
	ResourceUnavailable:  "ResourceUnavailable",
	ResourceExhausted:    "ResourceExhausted",
	NetworkError:         "NetworkError",
	TimeoutError:         "TimeoutError",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return "UnknownError"
}

// Error is the canonical {code, message, details} error value every fallible
// runtime operation returns. Equality is by (Code, Message, Details); the
// canonical string form is `code: message [details]`.
type Error struct {
	Code    ErrorCode
	Message string
	Details string

	stack string
	cause error
}

// New builds an Error with no details and no captured stack trace.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches the details field and returns the receiver for chaining.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithCause wraps an underlying error, made retrievable through Unwrap.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// WithStack captures the current goroutine's stack trace for diagnostics.
func (e *Error) WithStack() *Error {
	e.stack = captureStack()
	return e
}

// Stack returns the captured stack trace, if any.
func (e *Error) Stack() string { return e.stack }

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString(" [")
		b.WriteString(e.Details)
		b.WriteString("]")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Code, so that
// errors.Is(err, plugins.New(plugins.NotFound, "")) works regardless of
// message/details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Equal implements the value-equality spec.md §7 requires: same code,
// message, and details.
func (e *Error) Equal(other *Error) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.Code == other.Code && e.Message == other.Message && e.Details == other.Details
}

// AsError reports whether err is (or wraps) a *Error and returns it.
func AsError(err error) (*Error, bool) {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			return pe, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
