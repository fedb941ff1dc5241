package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Error types for wtunpack operations
var (
	// ErrFormat is returned for bad magic, truncated buffers and inconsistent derived lengths
	ErrFormat = &Error{Code: "FORMAT", Message: "malformed input"}

	// ErrMissingDictionary is returned when a dictionary-compressed entry is decoded without a dictionary
	ErrMissingDictionary = &Error{Code: "MISSING_DICTIONARY", Message: "shared dictionary required but not resolved"}

	// ErrDictionaryNotFound is returned when the nm entry names a dictionary absent from the container
	ErrDictionaryNotFound = &Error{Code: "DICTIONARY_NOT_FOUND", Message: "shared dictionary not found"}

	// ErrOutputTooLarge is returned when decompressed output exceeds the configured ceiling
	ErrOutputTooLarge = &Error{Code: "OUTPUT_TOO_LARGE", Message: "decompressed output exceeds limit"}

	// ErrIO is returned when reading inputs or writing outputs fails
	ErrIO = &Error{Code: "IO_FAILED", Message: "i/o failed"}
)

// Error represents a structured error in wtunpack operations
type Error struct {
	Code    string                 // Error code for programmatic handling
	Message string                 // Human-readable error message
	Cause   error                  // Underlying error, if any
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		fmt.Fprintf(&b, " (%s)", e.detailString())
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) detailString() string {
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code, so errors.Is(err, ErrFormat)
// matches any derived error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause adds a cause to the error
func (e *Error) WithCause(cause error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   cause,
		Details: e.Details,
	}
}

// WithDetail adds a detail key-value pair to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// WithMessage overrides the error message
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		Code:    e.Code,
		Message: message,
		Cause:   e.Cause,
		Details: e.Details,
	}
}

// Formatf is a shorthand for ErrFormat with a formatted message.
func Formatf(format string, args ...interface{}) *Error {
	return ErrFormat.WithMessage(fmt.Sprintf(format, args...))
}

// IsError checks if err is, or wraps, an *Error
func IsError(err error) bool {
	var e *Error
	return stderrors.As(err, &e)
}

// GetErrorCode extracts the error code from the first *Error in the chain
func GetErrorCode(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
