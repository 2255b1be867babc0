// Package errors provides structured error types for zion.
//
// Every failure that crosses a package boundary carries a [Code] so the CLI
// can decide how to report it and which exit status to use, and so batch
// flows can record a per-package failure category without string matching.
//
// # Error Codes
//
//   - INVALID_*: input validation failures (abort before any mutation)
//   - PRECONDITION_MISSING: a required project file is absent
//   - *_NOT_FOUND: unknown dependency name
//   - DOWNLOAD_FAILED, NETWORK_ERROR: transfer failures
//   - EXTRACTION_FAILED, HASH_MISMATCH, INJECTION_FAILED: per-package steps
//   - LOCK_CORRUPT: lock file could not be parsed and was discarded
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidReference, "reference %q must be owner/repo", ref)
//	if errors.Is(err, errors.ErrCodeInvalidReference) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeDownloadFailed, origErr, "download %s", url)
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidReference Code = "INVALID_REFERENCE"
	ErrCodeInvalidPackage   Code = "INVALID_PACKAGE"
	ErrCodeInvalidManifest  Code = "INVALID_MANIFEST"
	ErrCodeInvalidPath      Code = "INVALID_PATH"
	ErrCodeInvalidInput     Code = "INVALID_INPUT"

	// Project state errors
	ErrCodePreconditionMissing Code = "PRECONDITION_MISSING"
	ErrCodePackageNotFound     Code = "PACKAGE_NOT_FOUND"
	ErrCodeLockCorrupt         Code = "LOCK_CORRUPT"

	// Fetch pipeline errors
	ErrCodeDownloadFailed   Code = "DOWNLOAD_FAILED"
	ErrCodeExtractionFailed Code = "EXTRACTION_FAILED"
	ErrCodeHashMismatch     Code = "HASH_MISMATCH"
	ErrCodeInjectionFailed  Code = "INJECTION_FAILED"

	// Network errors
	ErrCodeNetwork Code = "NETWORK_ERROR"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Exit codes returned by the zion binary.
const (
	ExitFailure    = 1
	ExitValidation = 2
	ExitNotFound   = 3
	ExitNetwork    = 4
	ExitCancelled  = 130
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	switch GetCode(err) {
	case ErrCodeInvalidReference, ErrCodeInvalidPackage, ErrCodeInvalidInput,
		ErrCodeInvalidPath, ErrCodePreconditionMissing:
		return ExitValidation
	case ErrCodePackageNotFound:
		return ExitNotFound
	case ErrCodeDownloadFailed, ErrCodeNetwork:
		return ExitNetwork
	default:
		return ExitFailure
	}
}
