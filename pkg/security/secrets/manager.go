package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"mercator-hq/unistore/pkg/storage/cache"
)

// secretRefRegex matches ${secret:name} references.
var secretRefRegex = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Manager resolves secrets through an ordered list of providers. The first
// provider that supports a name and returns a value wins. Values are cached
// for the configured TTL.
type Manager struct {
	providers []SecretProvider
	cache     *cache.TTL[string]
	logger    *slog.Logger
}

// NewManager creates a manager. A zero ttl disables caching.
func NewManager(providers []SecretProvider, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		providers: providers,
		logger:    logger.With("component", "secrets"),
	}
	if ttl > 0 {
		m.cache = cache.New[string](cache.Config{TTL: ttl, MaxSize: 1000})
	}
	return m
}

// GetSecret returns the value of name from the first provider holding it.
func (m *Manager) GetSecret(ctx context.Context, name string) (string, error) {
	if m.cache != nil {
		if value, ok := m.cache.Get(name); ok {
			return value, nil
		}
	}

	var lastErr error
	for _, p := range m.providers {
		if !p.Supports(name) {
			continue
		}
		value, err := p.GetSecret(ctx, name)
		if err != nil {
			lastErr = err
			m.logger.Debug("provider failed to get secret",
				"provider", p.Provider(),
				"name", redactSecretName(name),
				"error", err)
			continue
		}
		if m.cache != nil {
			m.cache.Set(name, value)
		}
		m.logger.Debug("secret resolved", "provider", p.Provider(), "name", redactSecretName(name))
		return value, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", name, lastErr)
	}
	return "", fmt.Errorf("secret not found: %q (no provider supports this secret)", name)
}

// ResolveReferences replaces every ${secret:name} in input. References
// that cannot be resolved are left in place and reported together.
func (m *Manager) ResolveReferences(ctx context.Context, input string) (string, error) {
	var errs []error
	output := secretRefRegex.ReplaceAllStringFunc(input, func(match string) string {
		name := secretRefRegex.FindStringSubmatch(match)[1]
		value, err := m.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return value
	})
	return output, errors.Join(errs...)
}

// ResolveOptions returns a copy of opts with references resolved in every
// string value, including those nested in maps and slices.
func (m *Manager) ResolveOptions(ctx context.Context, opts map[string]any) (map[string]any, error) {
	var errs []error
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		resolved, err := m.resolveValue(ctx, v)
		if err != nil {
			errs = append(errs, fmt.Errorf("option %s: %w", k, err))
		}
		out[k] = resolved
	}
	return out, errors.Join(errs...)
}

func (m *Manager) resolveValue(ctx context.Context, v any) (any, error) {
	switch val := v.(type) {
	case string:
		if !secretRefRegex.MatchString(val) {
			return val, nil
		}
		return m.ResolveReferences(ctx, val)
	case map[string]any:
		return m.ResolveOptions(ctx, val)
	case []any:
		var errs []error
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := m.resolveValue(ctx, item)
			if err != nil {
				errs = append(errs, err)
			}
			out[i] = resolved
		}
		return out, errors.Join(errs...)
	default:
		return v, nil
	}
}

// Refresh clears the cache and every refreshable provider.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs []error
	for _, p := range m.providers {
		if r, ok := p.(RefreshableProvider); ok {
			if err := r.Refresh(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.Provider(), err))
			}
		}
	}
	if m.cache != nil {
		m.cache.Clear()
	}
	return errors.Join(errs...)
}

// Close releases the cache and any provider holding resources.
func (m *Manager) Close() error {
	if m.cache != nil {
		m.cache.Close()
	}
	var errs []error
	for _, p := range m.providers {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// redactSecretName keeps the first and last two characters of name.
func redactSecretName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
