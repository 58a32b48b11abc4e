package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Classmate error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrInvalidTime    ErrorCode = "INVALID_TIME"    // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrNoTimetable    ErrorCode = "NO_TIMETABLE"    // 409
	ErrQueueFull      ErrorCode = "QUEUE_FULL"      // 503
	ErrCollaborator   ErrorCode = "COLLABORATOR"    // 502
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// ClassmateError represents a structured error with code, status, and details.
type ClassmateError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// cause is the wrapped collaborator or storage error, if any.
	cause error
}

// Error implements the error interface.
func (e *ClassmateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause so errors.Is/As can see through.
func (e *ClassmateError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ClassmateError {
	return &ClassmateError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidTime creates a 400 error for a reminder time that could not be parsed.
func NewInvalidTime(input string) *ClassmateError {
	return &ClassmateError{
		Code:    ErrInvalidTime,
		Status:  400,
		Message: fmt.Sprintf("invalid time %q: use formats like 8:30 PM, 8:30 AM or 20:30", input),
		Details: map[string]any{"input": input},
	}
}

// NewNotFound creates a 404 error for a missing user record.
func NewNotFound(userID string) *ClassmateError {
	return &ClassmateError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("no data found for user %s", userID),
		Details: map[string]any{"user_id": userID},
	}
}

// NewNoTimetable creates a 409 error for operations that need a stored timetable.
func NewNoTimetable(userID string) *ClassmateError {
	return &ClassmateError{
		Code:    ErrNoTimetable,
		Status:  409,
		Message: fmt.Sprintf("user %s has no timetable; upload one first", userID),
		Details: map[string]any{"user_id": userID},
	}
}

// NewQueueFull creates a 503 error when the dispatch queue cannot accept a message.
func NewQueueFull(capacity int) *ClassmateError {
	return &ClassmateError{
		Code:    ErrQueueFull,
		Status:  503,
		Message: fmt.Sprintf("dispatch queue full (capacity %d)", capacity),
		Details: map[string]any{"capacity": capacity},
	}
}

// NewCollaborator creates a 502 error wrapping a failed external call
// (extraction, structuring, embedding, composition, delivery).
func NewCollaborator(collaborator string, err error) *ClassmateError {
	msg := collaborator + " failed"
	if err != nil {
		msg = fmt.Sprintf("%s failed: %v", collaborator, err)
	}
	return &ClassmateError{
		Code:    ErrCollaborator,
		Status:  502,
		Message: msg,
		Details: map[string]any{"collaborator": collaborator},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ClassmateError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ClassmateError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a ClassmateError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *ClassmateError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// Kind maps an error to a stable logging label.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var cErr *ClassmateError
	if stderrors.As(err, &cErr) {
		return string(cErr.Code)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return "TIMEOUT"
	}
	return "UNEXPECTED"
}
