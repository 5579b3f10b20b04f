package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"mercator-hq/unistore/pkg/config"
)

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		check  func(t *testing.T, out string)
	}{
		{
			name:   "json",
			format: "json",
			check: func(t *testing.T, out string) {
				var entry map[string]any
				if err := json.Unmarshal([]byte(out), &entry); err != nil {
					t.Fatalf("expected JSON output, got %q: %v", out, err)
				}
				if entry["msg"] != "hello" || entry["backend"] != "memory" {
					t.Errorf("unexpected entry: %v", entry)
				}
			},
		},
		{
			name:   "text",
			format: "text",
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "backend=memory") {
					t.Errorf("unexpected text output: %q", out)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(Config{Level: "info", Format: tt.format, Writer: &buf})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			logger.Info("hello", "backend", "memory")
			tt.check(t, buf.String())
		})
	}
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected warn entry, got %q", buf.String())
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("configured",
		"encryption_key", "hunter2",
		"base_path", "/data",
	)

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, `"encryption_key":"***"`) {
		t.Errorf("expected redacted key, got %s", out)
	}
	if !strings.Contains(out, `"base_path":"/data"`) {
		t.Errorf("expected non-secret attribute untouched, got %s", out)
	}
}

func TestFromConfig(t *testing.T) {
	var buf bytes.Buffer
	cfg := FromConfig(config.LoggingConfig{Level: "debug", Format: "text", AddSource: true}, &buf)
	if cfg.Level != "debug" || cfg.Format != "text" || !cfg.AddSource || cfg.Writer != &buf {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := map[string]bool{
		"encryption_key": true,
		"API_TOKEN":      true,
		"db_password":    true,
		"base_path":      false,
		"max_size":       false,
	}
	for key, want := range tests {
		if got := IsSensitiveKey(key); got != want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}
