package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestTetherError_Error(t *testing.T) {
	err := &TetherError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "window not found",
	}

	expected := "NOT_FOUND: window not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("session_id is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "session_id is required" {
		t.Errorf("Message = %q, want %q", err.Message, "session_id is required")
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidationf("end (%d) must be after start (%d)", 1, 2)

	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "end (1) must be after start (2)" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("window", "01HX")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "01HX" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01HX")
	}
	if err.Details["kind"] != "window" {
		t.Errorf("Details[kind] = %v, want %q", err.Details["kind"], "window")
	}
}

func TestNewConflict(t *testing.T) {
	err := NewConflict("already merged")

	if err.Code != ErrConflict {
		t.Errorf("Code = %q, want %q", err.Code, ErrConflict)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
}

func TestNewCancelled(t *testing.T) {
	err := NewCancelled("export")

	if err.Code != ErrCancelled {
		t.Errorf("Code = %q, want %q", err.Code, ErrCancelled)
	}
	if err.Status != 499 {
		t.Errorf("Status = %d, want 499", err.Status)
	}
}

func TestNewPersistence(t *testing.T) {
	cause := fmt.Errorf("database is locked")
	err := NewPersistence("insert window", cause)

	if err.Code != ErrPersistence {
		t.Errorf("Code = %q, want %q", err.Code, ErrPersistence)
	}
	if err.Message != "insert window failed" {
		t.Errorf("Message = %q, want %q", err.Message, "insert window failed")
	}
	if err.Details["internal_error"] != "database is locked" {
		t.Errorf("Details[internal_error] = %v", err.Details["internal_error"])
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
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
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q", err.Details["internal_error"])
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)

		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewNotFound("session", "x"), ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewNotFound("session", "x"), ErrConflict) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		if Is(fmt.Errorf("plain error"), ErrNotFound) {
			t.Error("Is() = true, want false for plain error")
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		wrapped := fmt.Errorf("ids[1]: %w", NewValidation("bad"))
		if !Is(wrapped, ErrValidation) {
			t.Error("Is() = false, want true for wrapped TetherError")
		}
		tErr, ok := As(wrapped)
		if !ok || tErr.Message != "bad" {
			t.Errorf("As() = %v, %v", tErr, ok)
		}
	})
}
