package cli

import (
	"errors"
	"fmt"
	"testing"

	"mercator-hq/unistore/pkg/storage"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("filter", "invalid JSON")

	expected := "config error in filter: invalid JSON"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestCommandError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := NewCommandError("get", underlying)

	expected := "command get failed: underlying error"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is() should find the wrapped error")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"config error", NewConfigError("limit", "must be >= 0"), ExitUsage},
		{"not found", storage.NewNotFoundError("memory", "update", "a"), ExitNotFound},
		{"wrapped not found", NewCommandError("get", storage.NewNotFoundError("file", "load", "a")), ExitNotFound},
		{"validation", storage.NewValidationError("sqlite", "list", "bad filter"), ExitUsage},
		{"configuration", fmt.Errorf("create: %w", storage.NewConfigurationError("file", "base_path", "is required")), ExitUsage},
		{"timeout", storage.NewTimeoutError("sqlite", "save", "a", nil), ExitFailure},
		{"plain", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
