// Package errors provides error types and handling for syncrelay.
// It includes custom error types carrying HTTP status codes, WebSocket close
// codes and machine-readable error codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/enflame-media/syncrelay/internal/constants"
)

// AppError represents an application error with an associated HTTP status code
// and, for socket-level failures, the close code the connection terminates with.
type AppError struct {
	// Code is an optional error code string for programmatic handling
	Code string
	// Message is a user-friendly error message
	Message string
	// StatusCode is the HTTP status code to return
	StatusCode int
	// CloseCode is the WebSocket close code used when the error ends a connection
	CloseCode constants.CloseCode
	// Cause is the underlying error (for error wrapping)
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for error unwrapping.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is to work with AppError.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code != "" && e.Code == t.Code
	}
	return false
}

// Predefined error codes.
const (
	// Client error codes.
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"

	// Connection error codes.
	ErrCodeAuthFailed              = "AUTH_FAILED"
	ErrCodeInvalidHandshake        = "INVALID_HANDSHAKE"
	ErrCodeMissingSessionID        = "MISSING_SESSION_ID"
	ErrCodeMissingMachineID        = "MISSING_MACHINE_ID"
	ErrCodeConnectionLimitExceeded = "CONNECTION_LIMIT_EXCEEDED"
	ErrCodeDuplicateConnection     = "DUPLICATE_CONNECTION"

	// Server error codes.
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeDatabaseError      = "DATABASE_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// NewClientError creates a new client error (4xx status codes).
func NewClientError(statusCode int, code, message string, cause error) *AppError {
	if statusCode < 400 || statusCode >= 500 {
		panic(fmt.Sprintf("NewClientError called with non-client status code: %d", statusCode))
	}
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		CloseCode:  constants.ClosePolicyViolation,
		Cause:      cause,
	}
}

// NewServerError creates a new server error (5xx status codes).
func NewServerError(statusCode int, code, message string, cause error) *AppError {
	if statusCode < 500 || statusCode >= 600 {
		panic(fmt.Sprintf("NewServerError called with non-server status code: %d", statusCode))
	}
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		CloseCode:  constants.CloseInternalError,
		Cause:      cause,
	}
}

// NewConnectionError creates an error that terminates a WebSocket with the given close code.
func NewConnectionError(closeCode constants.CloseCode, code, message string, cause error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
		CloseCode:  closeCode,
		Cause:      cause,
	}
}

// Convenience constructors for common errors

// ErrUnauthorized creates an unauthorized error (401).
func ErrUnauthorized(message string, cause error) *AppError {
	return NewClientError(http.StatusUnauthorized, ErrCodeUnauthorized, message, cause)
}

// ErrNotFound creates a not found error (404).
func ErrNotFound(message string, cause error) *AppError {
	return NewClientError(http.StatusNotFound, ErrCodeNotFound, message, cause)
}

// ErrConflict creates a conflict error (409).
func ErrConflict(message string, cause error) *AppError {
	return NewClientError(http.StatusConflict, ErrCodeConflict, message, cause)
}

// ErrBadRequest creates a bad request error (400).
func ErrBadRequest(message string, cause error) *AppError {
	return NewClientError(http.StatusBadRequest, ErrCodeInvalidRequest, message, cause)
}

// ErrAuthFailed creates an authentication failure that closes the socket with 4001
// and answers HTTP requests with 401.
func ErrAuthFailed(message string, cause error) *AppError {
	err := NewConnectionError(constants.CloseAuthFailed, ErrCodeAuthFailed, message, cause)
	err.StatusCode = http.StatusUnauthorized
	return err
}

// ErrInvalidHandshake creates a malformed handshake error (4002).
func ErrInvalidHandshake(message string, cause error) *AppError {
	return NewConnectionError(constants.CloseInvalidHandshake, ErrCodeInvalidHandshake, message, cause)
}

// ErrMissingSessionID creates an error for session-scoped sockets without a session id (4003).
func ErrMissingSessionID() *AppError {
	return NewConnectionError(constants.CloseMissingSessionID, ErrCodeMissingSessionID,
		"session-scoped connections require a session id", nil)
}

// ErrMissingMachineID creates an error for machine-scoped sockets without a machine id (4004).
func ErrMissingMachineID() *AppError {
	return NewConnectionError(constants.CloseMissingMachineID, ErrCodeMissingMachineID,
		"machine-scoped connections require a machine id", nil)
}

// ErrConnectionLimitExceeded creates the per-user connection cap error (4005).
func ErrConnectionLimitExceeded(userID string, limit int) *AppError {
	return NewConnectionError(constants.CloseConnectionLimitExceeded, ErrCodeConnectionLimitExceeded,
		fmt.Sprintf("user %s already holds %d connections", userID, limit), nil)
}

// ErrDuplicateConnection creates the duplicate identity error (4006).
func ErrDuplicateConnection(identity string) *AppError {
	return NewConnectionError(constants.CloseDuplicateConnection, ErrCodeDuplicateConnection,
		fmt.Sprintf("connection %s is already live", identity), nil)
}

// ErrInternalError creates an internal server error (500).
func ErrInternalError(message string, cause error) *AppError {
	return NewServerError(http.StatusInternalServerError, ErrCodeInternalError, message, cause)
}

// ErrDatabaseError creates a database error (503 Service Unavailable).
// Database failures are typically transient issues.
func ErrDatabaseError(message string, cause error) *AppError {
	return NewServerError(http.StatusServiceUnavailable, ErrCodeDatabaseError, message, cause)
}

// ErrServiceUnavailable creates a service unavailable error (503).
func ErrServiceUnavailable(message string, cause error) *AppError {
	return NewServerError(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message, cause)
}

// GetStatusCode extracts the HTTP status code from an error.
// Returns 500 if the error is not an AppError.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetCloseCode extracts the WebSocket close code from an error.
// Returns 1011 (internal error) if the error is not an AppError or carries no close code.
func GetCloseCode(err error) constants.CloseCode {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.CloseCode != 0 {
		return appErr.CloseCode
	}
	return constants.CloseInternalError
}

// GetErrorCode extracts the error code from an error.
// Returns empty string if the error is not an AppError.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetErrorMessage extracts a user-friendly message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// GetErrorDetails extracts detailed error information including the underlying cause.
// Returns the underlying error message if available, otherwise returns the main error message.
func GetErrorDetails(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Cause != nil {
			return appErr.Cause.Error()
		}
		return appErr.Message
	}
	return err.Error()
}
