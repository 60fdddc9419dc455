package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types.
var (
	ErrNotFound              = errors.New("resource not found")
	ErrBadRequest            = errors.New("bad request")
	ErrInternal              = errors.New("internal error")
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrUnsupportedCapability = errors.New("unsupported capability")
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrMalformedResponse     = errors.New("malformed provider response")
	ErrPersistence           = errors.New("persistence failure")
	ErrConfiguration         = errors.New("configuration error")
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrorResponse represents the JSON error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAppError creates a new application error.
func NewAppError(code string, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Common error constructors.

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// BadRequest creates a bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrBadRequest,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// QuotaExceeded creates a quota exceeded error.
func QuotaExceeded(message string) *AppError {
	return &AppError{
		Code:       "QUOTA_EXCEEDED",
		Message:    message,
		StatusCode: http.StatusPaymentRequired,
		Err:        ErrQuotaExceeded,
	}
}

// UnsupportedCapability creates a model/input mismatch error.
func UnsupportedCapability(message string) *AppError {
	return &AppError{
		Code:       "UNSUPPORTED_CAPABILITY",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        ErrUnsupportedCapability,
	}
}

// ProviderUnavailable creates a transient provider error (timeout, 5xx, rate limit).
func ProviderUnavailable(message string, err error) *AppError {
	return &AppError{
		Code:       "PROVIDER_UNAVAILABLE",
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        errors.Join(ErrProviderUnavailable, err),
	}
}

// MalformedResponse creates an error for a provider reply no image could be
// extracted from.
func MalformedResponse(message string) *AppError {
	return &AppError{
		Code:       "MALFORMED_RESPONSE",
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        ErrMalformedResponse,
	}
}

// Persistence creates an error for a storage write that failed after a
// successful generation.
func Persistence(message string, err error) *AppError {
	return &AppError{
		Code:       "PERSISTENCE_FAILURE",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        errors.Join(ErrPersistence, err),
	}
}

// Configuration creates an error for a missing credential or setting.
// Not retried; surfaced to users as generic unavailability.
func Configuration(message string) *AppError {
	return &AppError{
		Code:       "CONFIGURATION_ERROR",
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Err:        ErrConfiguration,
	}
}

// IsRetryable reports whether an error should re-enter the retry cycle.
// Transient provider errors and malformed responses are retryable; quota,
// capability, persistence and configuration errors are terminal.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrMalformedResponse)
}

// ToResponse converts an AppError to ErrorResponse.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    e.Code,
			Message: e.Message,
		},
	}
}

// GetStatusCode returns the appropriate HTTP status code for an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrUnsupportedCapability):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
