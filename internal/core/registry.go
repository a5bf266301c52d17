package core

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// Backend is the key-value store the metadata store is built on. Keys map
// either to an opaque value or to an unordered set of strings; a key is
// only ever used one way. Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value at key, replacing any earlier value.
	Put(ctx context.Context, key string, value []byte) error

	// AddMembers adds members to the set at key, creating it if needed.
	AddMembers(ctx context.Context, key string, members ...string) error

	// Members returns the members of the set at key. An absent set is empty.
	Members(ctx context.Context, key string) ([]string, error)

	// IsMember reports whether member belongs to the set at key.
	IsMember(ctx context.Context, key, member string) (bool, error)

	// Close releases the backend's resources.
	Close() error
}

// Factory opens a backend from a parsed backend URL.
type Factory func(u *url.URL) (Backend, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register adds a backend factory for a URL scheme (e.g., "memory",
// "pebble", "redis").
func Register(scheme string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[scheme] = factory
}

// Open creates a backend from a URL such as "memory://",
// "pebble:///var/lib/ministry" or "redis://localhost:6379/0".
func Open(rawURL string) (Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("backend url %q has no scheme", rawURL)
	}

	mu.RLock()
	factory, ok := factories[u.Scheme]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", u.Scheme)
	}

	return factory(u)
}

// SupportedBackends returns all registered backend schemes, sorted.
func SupportedBackends() []string {
	mu.RLock()
	defer mu.RUnlock()

	schemes := make([]string, 0, len(factories))
	for scheme := range factories {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}
