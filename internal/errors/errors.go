package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Critique error code.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"    // 400
	ErrInvalidRange     ErrorCode = "INVALID_RANGE"      // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"          // 404
	ErrFileNotFound     ErrorCode = "FILE_NOT_FOUND"     // 404
	ErrThreadResolved   ErrorCode = "THREAD_RESOLVED"    // 409
	ErrAlreadyApplied   ErrorCode = "ALREADY_APPLIED"    // 409
	ErrReviewInProgress ErrorCode = "REVIEW_IN_PROGRESS" // 409
	ErrFileTooLarge     ErrorCode = "FILE_TOO_LARGE"     // 413
	ErrCancelled        ErrorCode = "CANCELLED"          // 499
	ErrInternal         ErrorCode = "INTERNAL"           // 500
	ErrProviderError    ErrorCode = "PROVIDER_ERROR"     // 502
)

// CritiqueError represents a structured error with code, status, and details.
type CritiqueError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *CritiqueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CritiqueError {
	return &CritiqueError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidRange creates a 400 error for a line range outside the document.
func NewInvalidRange(start, end, lineCount int) *CritiqueError {
	return &CritiqueError{
		Code:    ErrInvalidRange,
		Status:  400,
		Message: fmt.Sprintf("invalid line range %d-%d (document has %d lines)", start, end, lineCount),
		Details: map[string]any{"start_line": start, "end_line": end, "line_count": lineCount},
	}
}

// NewNotFound creates a 404 error. kind names what was looked up ("thread",
// "message", "suggestion", "session").
func NewNotFound(kind, identifier string) *CritiqueError {
	return &CritiqueError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing input file.
func NewFileNotFound(path string) *CritiqueError {
	return &CritiqueError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewThreadResolved creates a 409 error for writes to a resolved thread.
func NewThreadResolved(threadID string) *CritiqueError {
	return &CritiqueError{
		Code:    ErrThreadResolved,
		Status:  409,
		Message: fmt.Sprintf("thread %s is resolved", threadID),
		Details: map[string]any{"thread_id": threadID},
	}
}

// NewAlreadyApplied creates a 409 error when a message already had a
// suggestion applied.
func NewAlreadyApplied(messageID string) *CritiqueError {
	return &CritiqueError{
		Code:    ErrAlreadyApplied,
		Status:  409,
		Message: fmt.Sprintf("a suggestion from message %s was already applied", messageID),
		Details: map[string]any{"message_id": messageID},
	}
}

// NewReviewInProgress creates a 409 error when an operation needs the
// review pipeline to be idle.
func NewReviewInProgress(threadID string) *CritiqueError {
	return &CritiqueError{
		Code:    ErrReviewInProgress,
		Status:  409,
		Message: "a review is already streaming",
		Details: map[string]any{"thread_id": threadID},
	}
}

// NewFileTooLarge creates a 413 error when an input file exceeds the size limit.
func NewFileTooLarge(max, actual int64) *CritiqueError {
	return &CritiqueError{
		Code:    ErrFileTooLarge,
		Status:  413,
		Message: fmt.Sprintf("file exceeds maximum size: %d bytes (max %d)", actual, max),
		Details: map[string]any{"max_bytes": max, "actual_bytes": actual},
	}
}

// NewCancelled creates a 499 error for a review that was superseded or aborted.
func NewCancelled() *CritiqueError {
	return &CritiqueError{
		Code:    ErrCancelled,
		Status:  499,
		Message: "review was cancelled",
	}
}

// NewProviderError creates a 502 error for completion provider failures.
func NewProviderError(provider string, err error) *CritiqueError {
	msg := "completion provider failed"
	if err != nil {
		msg = err.Error()
	}
	return &CritiqueError{
		Code:    ErrProviderError,
		Status:  502,
		Message: msg,
		Details: map[string]any{"provider": provider},
	}
}

// NewInternal creates a 500 error for unexpected internal errors. The
// message stays generic; the cause is kept in Details for logging.
func NewInternal(err error) *CritiqueError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &CritiqueError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if err is, or wraps, a CritiqueError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *CritiqueError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// As returns the CritiqueError in err's chain, or nil.
func As(err error) *CritiqueError {
	var cErr *CritiqueError
	if stderrors.As(err, &cErr) {
		return cErr
	}
	return nil
}
