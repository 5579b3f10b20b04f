package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSecret(t *testing.T, dir, name, value string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

func TestFileProvider_GetSecret(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "docs-key", "s3cret\n", 0o600)
	writeSecret(t, dir, "readonly", "ro", 0o400)
	writeSecret(t, dir, "open", "leaky", 0o644)
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o700); err != nil {
		t.Fatal(err)
	}

	p, err := NewFileProvider(dir, false, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}
	defer p.Close()

	tests := []struct {
		name    string
		secret  string
		want    string
		wantErr string
	}{
		{"trimmed", "docs-key", "s3cret", ""},
		{"read only", "readonly", "ro", ""},
		{"insecure permissions", "open", "", "insecure permissions"},
		{"missing", "nope", "", "not found"},
		{"directory", "nested", "", "not a regular file"},
		{"traversal", "../etc/passwd", "", "outside secrets directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.GetSecret(context.Background(), tt.secret)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("GetSecret() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("GetSecret() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}

	if !p.Supports("docs-key") || p.Supports("nope") || p.Supports("nested") {
		t.Error("Supports() should only accept existing regular files")
	}
}

func TestFileProvider_CacheAndRefresh(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "key", "v1", 0o600)

	p, err := NewFileProvider(dir, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if v, _ := p.GetSecret(ctx, "key"); v != "v1" {
		t.Fatalf("GetSecret() = %q, want v1", v)
	}
	writeSecret(t, dir, "key", "v2", 0o600)
	if v, _ := p.GetSecret(ctx, "key"); v != "v1" {
		t.Errorf("expected cached v1 before refresh, got %q", v)
	}
	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if v, _ := p.GetSecret(ctx, "key"); v != "v2" {
		t.Errorf("expected v2 after refresh, got %q", v)
	}
}

func TestFileProvider_Watch(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "key", "v1", 0o600)

	p, err := NewFileProvider(dir, true, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}
	defer p.Close()
	ctx := context.Background()

	if v, _ := p.GetSecret(ctx, "key"); v != "v1" {
		t.Fatalf("GetSecret() = %q, want v1", v)
	}
	writeSecret(t, dir, "key", "v2", 0o600)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := p.GetSecret(ctx, "key"); v == "v2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("watcher did not refresh the changed secret")
}

func TestFileProvider_InvalidDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	writeSecret(t, filepath.Dir(file), "plain", "x", 0o600)

	for _, dir := range []string{filepath.Join(t.TempDir(), "missing"), file} {
		if _, err := NewFileProvider(dir, false, nil); err == nil {
			t.Errorf("NewFileProvider(%s) expected error", dir)
		}
	}
}
