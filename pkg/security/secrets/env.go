package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DefaultEnvPrefix namespaces secrets read from the environment.
const DefaultEnvPrefix = "UNISTORE_SECRET_"

// EnvProvider loads secrets from environment variables. The variable name
// is the prefix followed by the secret name in upper case with hyphens and
// dots turned into underscores:
//
//	docs-key -> UNISTORE_SECRET_DOCS_KEY
type EnvProvider struct {
	Prefix string
}

// NewEnvProvider creates an environment provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix}
}

// GetSecret reads the variable for name. An empty variable counts as missing.
func (p *EnvProvider) GetSecret(ctx context.Context, name string) (string, error) {
	envVar := p.envVar(name)
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("secret not found in environment: %s (env var: %s)", name, envVar)
	}
	return value, nil
}

// Provider returns "env".
func (p *EnvProvider) Provider() string {
	return "env"
}

// Supports always returns true so the environment acts as the fallback.
func (p *EnvProvider) Supports(name string) bool {
	return true
}

func (p *EnvProvider) envVar(name string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return p.Prefix + strings.ToUpper(r.Replace(name))
}
