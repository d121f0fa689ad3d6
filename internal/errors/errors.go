package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Pairing codes
	ErrCodeInvalidCode     ErrorCode = "INVALID_CODE"
	ErrCodeCodeExpired     ErrorCode = "CODE_EXPIRED"
	ErrCodeCodeAlreadyUsed ErrorCode = "CODE_ALREADY_USED"

	// OAuth states
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeStateExpired     ErrorCode = "STATE_EXPIRED"
	ErrCodeStateAlreadyUsed ErrorCode = "STATE_ALREADY_USED"

	// Provider round trips
	ErrCodeExchangeFailed        ErrorCode = "EXCHANGE_FAILED"
	ErrCodeExchangedNotPersisted ErrorCode = "EXCHANGED_NOT_PERSISTED"
	ErrCodeRefreshFailed         ErrorCode = "REFRESH_FAILED"
	ErrCodeNeedsReauth           ErrorCode = "NEEDS_REAUTH"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func InvalidCode() *AppError {
	return New(ErrCodeInvalidCode, "Pairing code not found")
}

func CodeExpired() *AppError {
	return New(ErrCodeCodeExpired, "Pairing code has expired")
}

func CodeAlreadyUsed() *AppError {
	return New(ErrCodeCodeAlreadyUsed, "Pairing code has already been used")
}

func InvalidState() *AppError {
	return New(ErrCodeInvalidState, "OAuth state not found")
}

func StateExpired() *AppError {
	return New(ErrCodeStateExpired, "OAuth state has expired")
}

func StateAlreadyUsed() *AppError {
	return New(ErrCodeStateAlreadyUsed, "OAuth state has already been used")
}

func ExchangeFailed(diagnostic string, cause error) *AppError {
	return Wrap(ErrCodeExchangeFailed, fmt.Sprintf("Token exchange failed: %s", diagnostic), cause)
}

func ExchangedNotPersisted(chatUserID string, cause error) *AppError {
	return Wrap(ErrCodeExchangedNotPersisted,
		fmt.Sprintf("Token exchange succeeded but persisting the credential for %s failed", chatUserID), cause)
}

func RefreshFailed(diagnostic string, cause error) *AppError {
	return Wrap(ErrCodeRefreshFailed, fmt.Sprintf("Token refresh failed: %s", diagnostic), cause)
}

func NeedsReauth() *AppError {
	return New(ErrCodeNeedsReauth, "Refresh token is no longer usable; re-authentication required")
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func StorageUnavailable(cause error) *AppError {
	return Wrap(ErrCodeStorageUnavailable, "Storage unavailable", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
