package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an echocap error code.
type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"        // 400
	ErrPermissionDenied      ErrorCode = "PERMISSION_DENIED"      // 403
	ErrNotFound              ErrorCode = "NOT_FOUND"              // 404
	ErrFileNotFound          ErrorCode = "FILE_NOT_FOUND"         // 404
	ErrInvalidState          ErrorCode = "INVALID_STATE"          // 409
	ErrAuthenticationFailure ErrorCode = "AUTHENTICATION_FAILURE" // 422
	ErrCancelled             ErrorCode = "CANCELLED"              // 499
	ErrInternal              ErrorCode = "INTERNAL"               // 500
	ErrStorage               ErrorCode = "STORAGE_ERROR"          // 500
	ErrNotSupported          ErrorCode = "NOT_SUPPORTED"          // 501
	ErrDeviceUnavailable     ErrorCode = "DEVICE_UNAVAILABLE"     // 503
	ErrNotInitialized        ErrorCode = "NOT_INITIALIZED"        // 503
)

// EchoError represents a structured error with code, status, and details.
// Hint is an action-oriented message for the user; it never contains secrets.
type EchoError struct {
	Code    ErrorCode
	Status  int
	Message string
	Hint    string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *EchoError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *EchoError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *EchoError {
	return &EchoError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewPermissionDenied creates a 403 error for refused microphone or camera access.
func NewPermissionDenied(resource string, cause error) *EchoError {
	return &EchoError{
		Code:    ErrPermissionDenied,
		Status:  403,
		Message: fmt.Sprintf("%s access denied", resource),
		Hint:    fmt.Sprintf("grant %s access to echocap and try again", resource),
		Details: map[string]any{"resource": resource},
		cause:   cause,
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(collection, id string) *EchoError {
	return &EchoError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s record not found: %s", collection, id),
		Details: map[string]any{"collection": collection, "id": id},
	}
}

// NewFileNotFound creates a 404 error for a missing file.
func NewFileNotFound(path string) *EchoError {
	return &EchoError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewInvalidState creates a 409 error for an operation issued in the wrong state.
func NewInvalidState(component, op, state string) *EchoError {
	return &EchoError{
		Code:    ErrInvalidState,
		Status:  409,
		Message: fmt.Sprintf("%s: cannot %s while %s", component, op, state),
		Details: map[string]any{"component": component, "op": op, "state": state},
	}
}

// NewAuthenticationFailure creates a 422 error when a ciphertext fails to verify.
func NewAuthenticationFailure(cause error) *EchoError {
	return &EchoError{
		Code:    ErrAuthenticationFailure,
		Status:  422,
		Message: "ciphertext failed authentication",
		Hint:    "the data is corrupted or was encrypted with a different device token",
		cause:   cause,
	}
}

// NewCancelled creates a 499 error when an operation was cancelled.
func NewCancelled(op string) *EchoError {
	return &EchoError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"op": op},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *EchoError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &EchoError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// NewStorage creates a 500 error for a failed store transaction.
// The operation is considered not applied.
func NewStorage(op, collection string, cause error) *EchoError {
	msg := fmt.Sprintf("%s on %s failed", op, collection)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &EchoError{
		Code:    ErrStorage,
		Status:  500,
		Message: msg,
		Details: map[string]any{"op": op, "collection": collection},
		cause:   cause,
	}
}

// NewNotSupported creates a 501 error when the platform lacks a capability.
func NewNotSupported(capability, hint string) *EchoError {
	return &EchoError{
		Code:    ErrNotSupported,
		Status:  501,
		Message: fmt.Sprintf("%s is not supported on this device", capability),
		Hint:    hint,
		Details: map[string]any{"capability": capability},
	}
}

// NewDeviceUnavailable creates a 503 error when capture hardware is busy or absent.
func NewDeviceUnavailable(device string, cause error) *EchoError {
	msg := fmt.Sprintf("%s device unavailable", device)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &EchoError{
		Code:    ErrDeviceUnavailable,
		Status:  503,
		Message: msg,
		Hint:    fmt.Sprintf("check that the %s device is connected and not in use by another program", device),
		Details: map[string]any{"device": device},
		cause:   cause,
	}
}

// NewNotInitialized creates a 503 error for store calls issued before Initialize.
func NewNotInitialized(op string) *EchoError {
	return &EchoError{
		Code:    ErrNotInitialized,
		Status:  503,
		Message: fmt.Sprintf("store not initialized before %s", op),
		Details: map[string]any{"op": op},
	}
}

// Is checks if err, or any error it wraps, is an EchoError with the given code.
func Is(err error, code ErrorCode) bool {
	var eErr *EchoError
	if stderrors.As(err, &eErr) {
		return eErr.Code == code
	}
	return false
}

// As returns the first EchoError in err's chain.
func As(err error) (*EchoError, bool) {
	var eErr *EchoError
	if stderrors.As(err, &eErr) {
		return eErr, true
	}
	return nil, false
}
