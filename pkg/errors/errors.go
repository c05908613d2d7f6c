// Package errors provides structured error handling for labelflow.
// Errors carry a code, a message, key-value context and a short stack trace.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Error codes for programmatic handling
type Code string

const (
	// Configuration errors (1xx)
	CodeInvalidOffset        Code = "E101"
	CodeNonPositiveOffset    Code = "E102"
	CodeInvalidConfiguration Code = "E103"
	CodeStepIsPoint          Code = "E104"
	CodeInvalidTarget        Code = "E105"
	CodeInvalidFunction      Code = "E106"

	// Input errors (2xx)
	CodeNullIndex         Code = "E201"
	CodeUnsortedIndex     Code = "E202"
	CodeAmbiguousCutoff   Code = "E203"
	CodeMissingColumn     Code = "E204"
	CodeUnsupportedFormat Code = "E205"
	CodeReadFailed        Code = "E206"

	// Output errors (3xx)
	CodeWriteFailed      Code = "E301"
	CodeInvalidLabelTime Code = "E302"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all labelflow errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// InvalidOffset reports a value that is not a row count, duration,
// frequency alias or timestamp.
func InvalidOffset(param string, value interface{}) *Error {
	return New(CodeInvalidOffset, "offset must be position or time based").
		WithContext("param", param).
		WithContext("value", value)
}

// NonPositiveOffset reports an offset whose magnitude fails the positivity rule.
func NonPositiveOffset(param string, value interface{}) *Error {
	return New(CodeNonPositiveOffset, "offset must be positive").
		WithContext("param", param).
		WithContext("value", value)
}

// InvalidConfiguration reports an inconsistent combination of search parameters.
func InvalidConfiguration(message string) *Error {
	return New(CodeInvalidConfiguration, message)
}

// MissingColumn creates a missing column error.
func MissingColumn(column string, available []string) *Error {
	return New(CodeMissingColumn, "required column not found").
		WithContext("column", column).
		WithContext("available", available)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var lfErr *Error
	if errors.As(err, &lfErr) {
		return lfErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var lfErr *Error
	if errors.As(err, &lfErr) {
		return lfErr.Code
	}
	return CodeUnknown
}

// IsConfiguration reports whether the error was raised before any windowing.
func IsConfiguration(err error) bool {
	code := GetCode(err)
	return strings.HasPrefix(string(code), "E1")
}

// IsInput reports whether the error comes from a malformed event table.
func IsInput(err error) bool {
	code := GetCode(err)
	return strings.HasPrefix(string(code), "E2")
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
