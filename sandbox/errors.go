package sandbox

import (
	"context"
	"errors"
	"strings"

	"github.com/isdmx/codepool/command"
)

var (
	// ErrUnsupportedLanguage is returned for languages without a command template
	ErrUnsupportedLanguage = command.ErrUnsupportedLanguage
	// ErrContainerCreationFailed is returned when no container could be created after retrying
	ErrContainerCreationFailed = errors.New("container creation failed")
	// ErrExecutionTimeout is returned when an exec attempt outlives its timeout
	ErrExecutionTimeout = errors.New("execution timed out")
	// ErrResourceLimitExceeded is returned when the monitor killed the container
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
	// ErrCacheUnavailable marks cache backend failures. It is logged, never returned by the pool.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrRateLimitExceeded is returned when the rate limiter rejects a request
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrRuntimeUnavailable marks transient container runtime failures worth retrying
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	// ErrPoolClosed is returned once shutdown has started
	ErrPoolClosed = errors.New("container pool closed")
	// ErrCodeTooLong is returned for sources above the configured size limit
	ErrCodeTooLong = errors.New("code exceeds maximum length")
)

// Outcome labels used for metrics and logs
const (
	OutcomeOK            = "ok"
	OutcomeCached        = "cached"
	OutcomeRateLimited   = "rate_limited"
	OutcomeUnsupported   = "unsupported_language"
	OutcomeTimeout       = "timeout"
	OutcomeResourceLimit = "resource_limit"
	OutcomeCreateFailed  = "creation_failed"
	OutcomeCodeTooLong   = "code_too_long"
	OutcomeCanceled      = "canceled"
	OutcomeError         = "error"
)

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrRuntimeUnavailable)
}

// IsInfrastructure reports whether err is a failure of the service rather than
// of the client's input
func IsInfrastructure(err error) bool {
	if err == nil {
		return false
	}
	return !IsClientError(err) && !errors.Is(err, ErrRateLimitExceeded)
}

// IsClientError reports whether err was caused by the request itself
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnsupportedLanguage) || errors.Is(err, ErrCodeTooLong)
}

// Outcome classifies err into a metrics label
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrRateLimitExceeded):
		return OutcomeRateLimited
	case errors.Is(err, ErrUnsupportedLanguage):
		return OutcomeUnsupported
	case errors.Is(err, ErrCodeTooLong):
		return OutcomeCodeTooLong
	case errors.Is(err, ErrExecutionTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrResourceLimitExceeded):
		return OutcomeResourceLimit
	case errors.Is(err, ErrContainerCreationFailed):
		return OutcomeCreateFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

// UserMessage returns the client-facing text for err. Internal detail such as
// container ids or daemon messages never reaches the client.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimitExceeded):
		return "Rate limit exceeded. Please try again later."
	case errors.Is(err, ErrUnsupportedLanguage):
		return "Unsupported language. Supported languages: " + strings.Join(command.Names(), ", ")
	case errors.Is(err, ErrCodeTooLong):
		return "Code exceeds the maximum allowed length."
	case errors.Is(err, ErrExecutionTimeout):
		return "Execution timed out."
	case errors.Is(err, ErrResourceLimitExceeded):
		return "Execution was terminated for exceeding the memory limit."
	case errors.Is(err, ErrContainerCreationFailed):
		return "Could not start a sandbox for this language. Please try again later."
	case errors.Is(err, ErrPoolClosed):
		return "The service is shutting down."
	default:
		return "Internal error while executing code."
	}
}
