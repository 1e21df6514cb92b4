package errors

import (
	"fmt"
	"testing"
)

func TestCritiqueError_Error(t *testing.T) {
	err := &CritiqueError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "thread not found",
	}

	expected := "NOT_FOUND: thread not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("action is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "action is required" {
		t.Errorf("Message = %q, want %q", err.Message, "action is required")
	}
}

func TestNewInvalidRange(t *testing.T) {
	err := NewInvalidRange(4, 2, 10)

	if err.Code != ErrInvalidRange {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRange)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Details["line_count"] != 10 {
		t.Errorf("Details[line_count] = %v, want 10", err.Details["line_count"])
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("thread", "01ABC")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Message != "thread not found: 01ABC" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Details["identifier"] != "01ABC" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01ABC")
	}
}

func TestNewFileNotFound(t *testing.T) {
	err := NewFileNotFound("/tmp/missing.go")

	if err.Code != ErrFileNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrFileNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
}

func TestConflictErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *CritiqueError
		code ErrorCode
	}{
		{"thread resolved", NewThreadResolved("t1"), ErrThreadResolved},
		{"already applied", NewAlreadyApplied("m1"), ErrAlreadyApplied},
		{"review in progress", NewReviewInProgress("t1"), ErrReviewInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != 409 {
				t.Errorf("Status = %d, want 409", tt.err.Status)
			}
		})
	}
}

func TestNewFileTooLarge(t *testing.T) {
	err := NewFileTooLarge(10*1024*1024, 15*1024*1024)

	if err.Code != ErrFileTooLarge {
		t.Errorf("Code = %q, want %q", err.Code, ErrFileTooLarge)
	}
	if err.Status != 413 {
		t.Errorf("Status = %d, want 413", err.Status)
	}
	if err.Details["max_bytes"] != int64(10*1024*1024) {
		t.Errorf("Details[max_bytes] = %v, want %v", err.Details["max_bytes"], int64(10*1024*1024))
	}
	if err.Details["actual_bytes"] != int64(15*1024*1024) {
		t.Errorf("Details[actual_bytes] = %v, want %v", err.Details["actual_bytes"], int64(15*1024*1024))
	}
}

func TestNewCancelled(t *testing.T) {
	err := NewCancelled()

	if err.Code != ErrCancelled || err.Status != 499 {
		t.Errorf("got %s/%d, want CANCELLED/499", err.Code, err.Status)
	}
}

func TestNewProviderError(t *testing.T) {
	err := NewProviderError("openai", fmt.Errorf("status 429: rate limited"))

	if err.Code != ErrProviderError {
		t.Errorf("Code = %q, want %q", err.Code, ErrProviderError)
	}
	if err.Status != 502 {
		t.Errorf("Status = %d, want 502", err.Status)
	}
	if err.Message != "status 429: rate limited" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Details["provider"] != "openai" {
		t.Errorf("Details[provider] = %v, want openai", err.Details["provider"])
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("database connection failed"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		// Message should be generic (not leak internal details)
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "database connection failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)

		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewNotFound("thread", "x"), ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewNotFound("thread", "x"), ErrThreadResolved) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		if Is(fmt.Errorf("plain error"), ErrNotFound) {
			t.Error("Is() = true, want false for plain error")
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		wrapped := fmt.Errorf("apply: %w", NewAlreadyApplied("m1"))
		if !Is(wrapped, ErrAlreadyApplied) {
			t.Error("Is() = false, want true for wrapped error")
		}
		if As(wrapped) == nil {
			t.Error("As() = nil, want error")
		}
	})
}
