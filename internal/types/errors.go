package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a namespaced error code for audit pipeline errors.
type ErrorCode string

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_PARSE_FAILED      ErrorCode = "CONFIG_PARSE_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
	CONFIG_NOT_FOUND         ErrorCode = "CONFIG_NOT_FOUND"

	// CONFIG_NO_CREDENTIALS means no provider usable for a role could be found,
	// the fallback included.
	CONFIG_NO_CREDENTIALS ErrorCode = "CONFIG_NO_CREDENTIALS"

	// CONFIG_NO_FALLBACK means the primary provider of a role has no
	// credentials and no fallback binding was configured.
	CONFIG_NO_FALLBACK ErrorCode = "CONFIG_NO_FALLBACK"
)

// Database error codes
const (
	DB_OPEN_FAILED      ErrorCode = "DB_OPEN_FAILED"
	DB_MIGRATION_FAILED ErrorCode = "DB_MIGRATION_FAILED"
	DB_QUERY_FAILED     ErrorCode = "DB_QUERY_FAILED"
	DB_NOT_FOUND        ErrorCode = "DB_NOT_FOUND"
)

// Pipeline error codes
const (
	PIPELINE_INVALID_TRANSITION ErrorCode = "PIPELINE_INVALID_TRANSITION"
	PIPELINE_BUDGET_EXHAUSTED   ErrorCode = "PIPELINE_BUDGET_EXHAUSTED"
	PIPELINE_CANCELLED          ErrorCode = "PIPELINE_CANCELLED"
	PIPELINE_INVALID_INPUT      ErrorCode = "PIPELINE_INVALID_INPUT"
)

// Agent error codes
const (
	AGENT_CALL_FAILED      ErrorCode = "AGENT_CALL_FAILED"
	AGENT_INVALID_RESPONSE ErrorCode = "AGENT_INVALID_RESPONSE"
)

// Exclusion error codes
const (
	EXCLUSION_INVALID_RULE ErrorCode = "EXCLUSION_INVALID_RULE"
	EXCLUSION_NOT_FOUND    ErrorCode = "EXCLUSION_NOT_FOUND"
	EXCLUSION_RULE_FAILED  ErrorCode = "EXCLUSION_RULE_FAILED"
)

// Coverage error codes
const (
	COVERAGE_INVALID_SPEC   ErrorCode = "COVERAGE_INVALID_SPEC"
	COVERAGE_INVALID_POLICY ErrorCode = "COVERAGE_INVALID_POLICY"
)

// Error is a structured error with an error code, message and optional cause.
// It supports error wrapping and retryability hints for the retry loop.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError creates a non-retryable Error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewRetryableError creates a retryable Error for transient failures.
func NewRetryableError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// WrapError creates a non-retryable Error wrapping cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Code == code {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}
