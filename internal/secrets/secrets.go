// Package secrets resolves third-party API credentials and shared tokens from
// the deployment environment.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store fetches a named secret as a key-value map.
type Store interface {
	Get(ctx context.Context, name string) (map[string]string, error)
}

// EnvStore reads secrets injected by the deployment platform as environment
// variables. A secret named "strava-keys" is expected as SECRET_STRAVA_KEYS
// holding a JSON object.
type EnvStore struct{}

// Get resolves the secret name to its environment variable and decodes it.
func (EnvStore) Get(_ context.Context, name string) (map[string]string, error) {
	key := "SECRET_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return nil, fmt.Errorf("secret %q not found (env %s unset)", name, key)
	}

	values := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("secret %q is not a JSON object: %w", name, err)
	}
	return values, nil
}

// Cached wraps a Store with a per-process cache. Secrets rotate by process
// replacement, so entries never expire.
type Cached struct {
	inner Store

	mu     sync.RWMutex
	values map[string]map[string]string
}

// NewCached constructs a caching wrapper around inner.
func NewCached(inner Store) *Cached {
	return &Cached{inner: inner, values: make(map[string]map[string]string)}
}

// Get returns the cached secret, fetching it on first use.
func (c *Cached) Get(ctx context.Context, name string) (map[string]string, error) {
	c.mu.RLock()
	cached, ok := c.values[name]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	values, err := c.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.values[name] = values
	c.mu.Unlock()
	return values, nil
}
