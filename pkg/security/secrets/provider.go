package secrets

import "context"

// SecretProvider retrieves secrets from one source.
type SecretProvider interface {
	// GetSecret returns the value of the named secret.
	GetSecret(ctx context.Context, name string) (string, error)

	// Provider returns the provider name ("env", "file").
	Provider() string

	// Supports reports whether the provider may hold name. The manager
	// skips providers that do not.
	Supports(name string) bool
}

// RefreshableProvider can drop its cached values so rotated secrets are
// picked up without a restart.
type RefreshableProvider interface {
	SecretProvider
	Refresh(ctx context.Context) error
}
