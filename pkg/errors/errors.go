// Package errors implements structured errors for tripflow with machine
// codes, context, and retry classification.
//
// The code space follows the ingestion error taxonomy: E1xx input errors
// (a record failed natural-key coercion; the record is excluded, the batch
// continues), E2xx processing errors, E3xx storage errors (retriable by
// the orchestrator), E4xx configuration errors (fatal, never retried).
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeMissingColumn    Code = "E101"
	CodeInvalidTimestamp Code = "E102"
	CodeInvalidField     Code = "E103"
	CodeMalformedRow     Code = "E104"

	// Processing errors (2xx)
	CodeDecodeFailed Code = "E201"
	CodeEmptyBatch   Code = "E202"
	CodeTooManyBad   Code = "E203"

	// Storage errors (3xx) — retriable
	CodeStorageUnavailable Code = "E301"
	CodeStageFailed        Code = "E302"
	CodeMergeConflict      Code = "E303"
	CodeMergeFailed        Code = "E304"

	// Configuration errors (4xx) — fatal
	CodeTableMissing    Code = "E401"
	CodeUnknownCategory Code = "E402"
	CodeInvalidPeriod   Code = "E403"
	CodeBadConfig       Code = "E404"

	CodeUnknown Code = "E999"
)

// Error is the base error type for tripflow.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, v)
			first = false
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

// Is matches on code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds a context value to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error. Returns nil for a nil cause.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// --- Convenience constructors ---

// MissingColumn reports a required column absent from the input header.
func MissingColumn(column string, available []string) *Error {
	return New(CodeMissingColumn, "required column not found").
		WithContext("column", column).
		WithContext("available", available)
}

// InvalidTimestamp reports an unparsable timestamp value.
func InvalidTimestamp(value string, row int64) *Error {
	return New(CodeInvalidTimestamp, "failed to parse timestamp").
		WithContext("value", value).
		WithContext("row", row)
}

// StorageUnavailable reports an unreachable staging or canonical store.
func StorageUnavailable(err error, location string) *Error {
	return Wrap(err, CodeStorageUnavailable, "storage unreachable").
		WithContext("location", location)
}

// UnknownCategory reports an unconfigured dataset category.
func UnknownCategory(category string) *Error {
	return New(CodeUnknownCategory, "unknown category").
		WithContext("category", category)
}

// TableMissing reports an absent canonical table.
func TableMissing(table string) *Error {
	return New(CodeTableMissing, "canonical table missing").
		WithContext("table", table)
}

// --- Error checking utilities ---

// GetCode extracts the error code, or CodeUnknown.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks whether an error carries a specific code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsRetryable reports whether the orchestrator may safely re-invoke the
// failed operation. Safe because stage and promote are idempotent.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeStorageUnavailable, CodeStageFailed, CodeMergeConflict, CodeMergeFailed:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error must surface immediately without retry.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeTableMissing, CodeUnknownCategory, CodeInvalidPeriod, CodeBadConfig:
		return true
	default:
		return false
	}
}
