package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zero-day-ai/verdict/internal/types"
)

// Model-call error codes
const (
	ErrProviderNotFound      types.ErrorCode = "LLM_PROVIDER_NOT_FOUND"
	ErrProviderInitFailed    types.ErrorCode = "LLM_PROVIDER_INIT_FAILED"
	ErrProviderUnavailable   types.ErrorCode = "LLM_PROVIDER_UNAVAILABLE"
	ErrProviderUnauthorized  types.ErrorCode = "LLM_PROVIDER_UNAUTHORIZED"
	ErrProviderRateLimited   types.ErrorCode = "LLM_PROVIDER_RATE_LIMITED"
	ErrProviderQuotaExceeded types.ErrorCode = "LLM_PROVIDER_QUOTA_EXCEEDED"
	ErrProviderExists        types.ErrorCode = "LLM_PROVIDER_ALREADY_EXISTS"
	ErrCircuitOpen           types.ErrorCode = "LLM_CIRCUIT_OPEN"

	ErrModelNotFound        types.ErrorCode = "LLM_MODEL_NOT_FOUND"
	ErrModelContextExceeded types.ErrorCode = "LLM_MODEL_CONTEXT_EXCEEDED"

	ErrInvalidRequest      types.ErrorCode = "LLM_INVALID_REQUEST"
	ErrRoleNotBound        types.ErrorCode = "LLM_ROLE_NOT_BOUND"
	ErrCompletionFailed    types.ErrorCode = "LLM_COMPLETION_FAILED"
	ErrContentFiltered     types.ErrorCode = "LLM_CONTENT_FILTERED"
	ErrResponseParseFailed types.ErrorCode = "LLM_RESPONSE_PARSE_FAILED"
	ErrTimeoutExceeded     types.ErrorCode = "LLM_TIMEOUT_EXCEEDED"
	ErrContextCanceled     types.ErrorCode = "LLM_CONTEXT_CANCELED"
	ErrNetworkFailed       types.ErrorCode = "LLM_NETWORK_FAILED"
	ErrAllAttemptsFailed   types.ErrorCode = "LLM_ALL_ATTEMPTS_FAILED"
	ErrBudgetExceeded      types.ErrorCode = "LLM_BUDGET_EXCEEDED"
)

// IsRetryable reports whether err is transient and may succeed on retry.
func IsRetryable(err error) bool {
	var e *types.Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Retryable {
		return true
	}
	switch e.Code {
	case ErrNetworkFailed, ErrTimeoutExceeded,
		ErrProviderRateLimited, ErrProviderQuotaExceeded, ErrProviderUnavailable:
		return true
	default:
		return false
	}
}

// IsFailoverable reports whether a failed primary binding should hand over
// to the fallback. Transient errors qualify once retries are exhausted, and so
// do errors tied to the primary itself such as bad credentials or an unknown
// model. Cancellation and malformed requests do not.
func IsFailoverable(err error) bool {
	if IsRetryable(err) {
		return true
	}
	var e *types.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case ErrProviderUnauthorized, ErrProviderNotFound, ErrProviderInitFailed,
		ErrModelNotFound, ErrCircuitOpen, ErrCompletionFailed:
		return true
	default:
		return false
	}
}

// NewProviderNotFoundError creates an error for an unregistered provider.
func NewProviderNotFoundError(providerName string) *types.Error {
	return types.NewError(ErrProviderNotFound, "provider not found: "+providerName)
}

// NewProviderUnavailableError creates a retryable error for a provider that
// is temporarily unavailable.
func NewProviderUnavailableError(providerName string, cause error) *types.Error {
	return &types.Error{
		Code:      ErrProviderUnavailable,
		Message:   "provider temporarily unavailable: " + providerName,
		Retryable: true,
		Cause:     cause,
	}
}

// NewRateLimitError creates a retryable error for rate limiting.
func NewRateLimitError(providerName string) *types.Error {
	return &types.Error{
		Code:      ErrProviderRateLimited,
		Message:   "rate limit exceeded for provider: " + providerName,
		Retryable: true,
	}
}

// NewNetworkError creates a retryable error for network failures.
func NewNetworkError(message string, cause error) *types.Error {
	return &types.Error{
		Code:      ErrNetworkFailed,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewTimeoutError creates a retryable error for a timed-out call.
func NewTimeoutError(message string) *types.Error {
	return &types.Error{
		Code:      ErrTimeoutExceeded,
		Message:   message,
		Retryable: true,
	}
}

// NewAuthError creates an error for rejected or missing credentials.
func NewAuthError(providerName string, cause error) *types.Error {
	return &types.Error{
		Code:    ErrProviderUnauthorized,
		Message: fmt.Sprintf("provider '%s' authentication failed", providerName),
		Cause:   cause,
	}
}

// NewInvalidRequestError creates an error for malformed requests.
func NewInvalidRequestError(message string) *types.Error {
	return types.NewError(ErrInvalidRequest, message)
}

// NewParseError creates an error for a response that could not be decoded.
func NewParseError(providerName, content string, cause error) *types.Error {
	preview := content
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return types.WrapError(ErrResponseParseFailed,
		fmt.Sprintf("%s returned an unparseable response: %q", providerName, preview), cause)
}

// TranslateError maps an error returned by a provider SDK to a coded error,
// based on the error value first and its message second.
func TranslateError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var e *types.Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return types.WrapError(ErrContextCanceled, "call to "+provider+" canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return &types.Error{
			Code:      ErrTimeoutExceeded,
			Message:   "call to " + provider + " timed out",
			Retryable: true,
			Cause:     err,
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "api key") || strings.Contains(lower, "401"):
		return NewAuthError(provider, err)
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429"):
		return NewRateLimitError(provider)
	case strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient_quota"):
		return &types.Error{Code: ErrProviderQuotaExceeded, Message: "quota exceeded for " + provider, Retryable: true, Cause: err}
	case strings.Contains(lower, "overloaded") || strings.Contains(lower, "503") || strings.Contains(lower, "502"):
		return NewProviderUnavailableError(provider, err)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return NewTimeoutError(err.Error())
	case strings.Contains(lower, "network") || strings.Contains(lower, "connection"):
		return NewNetworkError(err.Error(), err)
	case strings.Contains(lower, "model") && strings.Contains(lower, "not found"):
		return types.WrapError(ErrModelNotFound, "model not found at "+provider, err)
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too long"):
		return types.WrapError(ErrModelContextExceeded, "prompt exceeds context window of "+provider, err)
	default:
		return NewProviderUnavailableError(provider, err)
	}
}
