package util

import (
	"errors"
	"testing"
)

func TestErrorUnwrapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not found", NewNotFoundError("entity", "fog-machine"), ErrNotFound},
		{"conflict", NewConflictError("device", "hw-001", "hardware_id taken"), ErrAlreadyExists},
		{"rejection", NewRejectionError("str-1", "busy"), ErrUpstreamRejected},
		{"validation", NewValidationError("name is required"), ErrValidationFailed},
		{"dependency", NewDependencyError("redis", errors.New("dial refused")), ErrDependencyDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.sentinel)
			}
		})
	}
}

func TestValidationBuilder(t *testing.T) {
	t.Run("no errors builds nil", func(t *testing.T) {
		var v ValidationBuilder
		v.Add(true, "should not appear")
		if err := v.Build(); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("accumulates failures", func(t *testing.T) {
		var v ValidationBuilder
		v.Add(false, "name is required")
		v.AddErrorf("port %d out of range", 99999)
		if !v.HasErrors() {
			t.Fatal("expected HasErrors")
		}
		err := v.Build()
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("expected ErrValidationFailed, got %v", err)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) || len(verr.Errors) != 2 {
			t.Errorf("expected 2 messages, got %v", err)
		}
	})
}

func TestRejectionErrorMessage(t *testing.T) {
	if got := NewRejectionError("s1", "").Error(); got != "stream s1 rejected the request" {
		t.Errorf("unexpected message: %q", got)
	}
	if got := NewRejectionError("s1", "busy").Error(); got != "stream s1 rejected the request: busy" {
		t.Errorf("unexpected message: %q", got)
	}
}
