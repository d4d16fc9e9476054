package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Transport errors
	ErrCodeNotConnected   ErrorCode = "NOT_CONNECTED"
	ErrCodeTransportError ErrorCode = "TRANSPORT_ERROR"

	// Call signaling errors
	ErrCodeBusy            ErrorCode = "BUSY"
	ErrCodeOffline         ErrorCode = "OFFLINE"
	ErrCodeTokenFetch      ErrorCode = "TOKEN_FETCH_FAILED"
	ErrCodeRejected        ErrorCode = "REJECTED"
	ErrCodeTimeout         ErrorCode = "TIMEOUT"
	ErrCodeMediaJoinFailed ErrorCode = "MEDIA_JOIN_FAILED"

	// Session errors
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"

	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Not found errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeRoomNotFound ErrorCode = "ROOM_NOT_FOUND"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError represents a structured application error with code and message
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Transport errors

func NotConnectedError() *AppError {
	return New(ErrCodeNotConnected, "No live transport connection")
}

func TransportError(err error) *AppError {
	return Wrap(ErrCodeTransportError, "Transport failure", err)
}

// Call signaling errors

func BusyError(message string) *AppError {
	return New(ErrCodeBusy, message)
}

func OfflineError(identityID string) *AppError {
	return New(ErrCodeOffline, fmt.Sprintf("User %s is offline", identityID))
}

func TokenFetchError(err error) *AppError {
	return Wrap(ErrCodeTokenFetch, "Failed to fetch media token", err)
}

func RejectedError(displayName string) *AppError {
	return New(ErrCodeRejected, fmt.Sprintf("Call rejected by %s", displayName))
}

func TimeoutError(message string) *AppError {
	return New(ErrCodeTimeout, message)
}

func MediaJoinFailedError(err error) *AppError {
	return Wrap(ErrCodeMediaJoinFailed, "Failed to join media session", err)
}

// Session errors

func SessionClosedError() *AppError {
	return New(ErrCodeSessionClosed, "Session is closed")
}

// Validation errors

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

// Authentication errors

func UnauthorizedError(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func InvalidTokenError(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

// Not found errors

func NotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func RoomNotFoundError() *AppError {
	return New(ErrCodeRoomNotFound, "Room not found")
}

// Internal errors

func InternalError(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// IsAppError checks if an error is an AppError type
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err.Error())
}

// HasCode reports whether err carries the given application error code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
