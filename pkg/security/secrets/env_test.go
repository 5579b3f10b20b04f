package secrets

import (
	"context"
	"testing"
)

func TestEnvProvider_GetSecret(t *testing.T) {
	t.Setenv("UNISTORE_SECRET_DOCS_KEY", "env-value")
	t.Setenv("UNISTORE_SECRET_DB_PASSWORD", "dotted")

	tests := []struct {
		name    string
		secret  string
		want    string
		wantErr bool
	}{
		{"hyphenated", "docs-key", "env-value", false},
		{"upper case", "DOCS_KEY", "env-value", false},
		{"dotted", "db.password", "dotted", false},
		{"missing", "nope", "", true},
	}

	p := NewEnvProvider(DefaultEnvPrefix)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.GetSecret(context.Background(), tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("GetSecret() = %q, want %q", got, tt.want)
			}
		})
	}

	if !p.Supports("anything") || p.Provider() != "env" {
		t.Error("env provider should support every name")
	}
}
