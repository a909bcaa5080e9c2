// Package errmap maps domain errors to transport error responses.
// Exactly one table per transport; handlers never pick status codes ad hoc.
package errmap

import (
	"errors"
	"net/http"

	"github.com/gantryhq/gantry/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// httpMapping defines a domain error to HTTP status/code mapping.
type httpMapping struct {
	err        error
	statusCode int
	code       string
}

// httpMappings maps domain errors to HTTP status codes and error codes.
// Order matters: first match wins (via errors.Is).
var httpMappings = []httpMapping{
	// Resource errors
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrNotRunning, http.StatusNotFound, "NOT_RUNNING"},
	{domain.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},

	// Auth errors — 401
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHENTICATED"},
	{domain.ErrTokenRevoked, http.StatusUnauthorized, "TOKEN_REVOKED"},

	// Permission errors
	{domain.ErrForbidden, http.StatusForbidden, "PERMISSION_DENIED"},

	// Validation errors — 400
	{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrInvalidAppName, http.StatusBadRequest, "INVALID_APP_NAME"},
	{domain.ErrRecipeInvalid, http.StatusBadRequest, "RECIPE_INVALID"},
	{domain.ErrEmptyID, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrInvalidID, http.StatusBadRequest, "INVALID_ARGUMENT"},

	// Build context errors — the client shipped an incomplete context
	{domain.ErrContextIncomplete, http.StatusUnprocessableEntity, "CONTEXT_INCOMPLETE"},
	{domain.ErrSourceTooLarge, http.StatusRequestEntityTooLarge, "SOURCE_TOO_LARGE"},

	// Deploy pipeline errors — the app's own build or contract failed
	{domain.ErrBuildFailed, http.StatusUnprocessableEntity, "BUILD_FAILED"},
	{domain.ErrImageContract, http.StatusUnprocessableEntity, "IMAGE_CONTRACT_VIOLATION"},
	{domain.ErrProbeFailed, http.StatusUnprocessableEntity, "PROBE_FAILED"},

	// Concurrency — 409
	{domain.ErrDeployInProgress, http.StatusConflict, "DEPLOY_IN_PROGRESS"},

	// Rate limiting — 429
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},

	// Capacity and availability — 503
	{domain.ErrPortExhausted, http.StatusServiceUnavailable, "PORT_EXHAUSTED"},
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
}

// ToHTTPError converts a domain error to an HTTP error.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			return HTTPError{StatusCode: m.statusCode, Code: m.code, Message: err.Error()}
		}
	}
	// Never expose internal error details to clients
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
}

// ToHTTPStatusCode extracts just the HTTP status code for a domain error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}
