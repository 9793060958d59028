package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Facade
	ErrCodeNotConnected    ErrorCode = "NOT_CONNECTED"
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeSendFailed      ErrorCode = "SEND_FAILED"

	// Session lifecycle
	ErrCodeTransportClosed ErrorCode = "TRANSPORT_CLOSED"
	ErrCodeHandshakeFailed ErrorCode = "HANDSHAKE_FAILED"

	// Persistence
	ErrCodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeDatabase          ErrorCode = "DATABASE_ERROR"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Auth
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
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

func NotConnected() *AppError {
	return New(ErrCodeNotConnected, "Session is not connected")
}

func InvalidArgument(field string, reason string) *AppError {
	return New(ErrCodeInvalidArgument, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeInvalidArgument, fmt.Sprintf("%s is required", field))
}

func SendFailed(cause error) *AppError {
	return Wrap(ErrCodeSendFailed, "Transport rejected send", cause)
}

func TransportClosed(code int, message string) *AppError {
	return New(ErrCodeTransportClosed, message).WithDetails(map[string]int{"code": code})
}

func HandshakeFailed(cause error) *AppError {
	return Wrap(ErrCodeHandshakeFailed, "Protocol handshake failed", cause)
}

func PersistenceFailed(op string, cause error) *AppError {
	return Wrap(ErrCodePersistenceFailed, fmt.Sprintf("Credential persistence failed: %s", op), cause)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
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
