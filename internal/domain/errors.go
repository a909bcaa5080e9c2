package domain

import "errors"

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// ID validation errors
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Resource errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Authorization errors
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("permission denied")
	ErrTokenRevoked = errors.New("token has been revoked")

	// Validation errors
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidAppName = errors.New("invalid app name")
	ErrRecipeInvalid  = errors.New("build recipe is invalid")

	// Build context errors
	ErrContextIncomplete = errors.New("build context is incomplete")
	ErrSourceTooLarge    = errors.New("source archive exceeds size limit")

	// Deploy pipeline errors
	ErrBuildFailed      = errors.New("image build failed")
	ErrImageContract    = errors.New("built image violates runtime contract")
	ErrProbeFailed      = errors.New("readiness probe failed")
	ErrDeployInProgress = errors.New("deploy already in progress for app")
	ErrPortExhausted    = errors.New("no host port available in configured range")
	ErrNotRunning       = errors.New("app has no running container")

	// Operational errors
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrUnavailable = errors.New("service temporarily unavailable")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
)

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrDeployInProgress) ||
		errors.Is(err, ErrPortExhausted)
}

// clientErrors enumerates all domain errors that represent client-side issues.
var clientErrors = []error{
	ErrInvalidInput,
	ErrInvalidAppName,
	ErrRecipeInvalid,
	ErrContextIncomplete,
	ErrSourceTooLarge,
	ErrNotFound,
	ErrNotRunning,
	ErrForbidden,
	ErrUnauthorized,
	ErrTokenRevoked,
	ErrEmptyID,
	ErrInvalidID,
	ErrAlreadyExists,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsPermissionDenied returns true if the error represents a permission issue.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrUnauthorized)
}

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDeployFailure returns true if the error represents a deploy pipeline
// failure attributable to the app's own source or image rather than the
// platform.
func IsDeployFailure(err error) bool {
	return errors.Is(err, ErrBuildFailed) ||
		errors.Is(err, ErrImageContract) ||
		errors.Is(err, ErrProbeFailed)
}
