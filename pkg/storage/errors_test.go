package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_IsByKind(t *testing.T) {
	err := NewNotFoundError("file", "update", "abc")
	wrapped := fmt.Errorf("outer: %w", err)

	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("expected errors.Is to match ErrNotFound")
	}
	if errors.Is(wrapped, ErrTimeout) {
		t.Error("did not expect a timeout match")
	}
	if !IsNotFound(wrapped) {
		t.Error("expected IsNotFound")
	}
}

func TestError_Message(t *testing.T) {
	err := NewTransactionError("sqlite", 2, NewNotFoundError("sqlite", "delete", "x"))
	msg := err.Error()
	for _, want := range []string{"transaction error", "backend=sqlite", "operation 2 failed", "id=x"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected cause to be reachable through Unwrap")
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), KindTimeout},
		{"plain", errors.New("disk on fire"), KindStorage},
		{"typed", NewCapacityError("memory", "a", "full"), KindCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap("memory", "save", "a", tt.err)
			if KindOf(got) != tt.want {
				t.Errorf("KindOf(Wrap()) = %v, want %v", KindOf(got), tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("expected original error to be preserved")
			}
		})
	}

	if Wrap("memory", "save", "", nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestConfigurationError_Field(t *testing.T) {
	err := NewConfigurationError("file", "base_path", "is required")
	if !strings.Contains(err.Error(), "base_path: is required") {
		t.Errorf("unexpected message: %s", err)
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Error("expected configuration kind")
	}
}
