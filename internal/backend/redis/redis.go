// Package redis provides a core.Backend on Redis, for deployments where
// several index processes share one store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/git-pkgs/ministry/internal/core"
)

func init() {
	core.Register("redis", func(u *url.URL) (core.Backend, error) {
		return Open(u.String())
	})
	core.Register("rediss", func(u *url.URL) (core.Backend, error) {
		return Open(u.String())
	})
}

// Backend implements core.Backend with Redis strings and sets.
type Backend struct {
	client *redis.Client
}

// Open connects using a redis:// URL such as "redis://localhost:6379/0".
func Open(rawURL string) (*Backend, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return New(redis.NewClient(opts)), nil
}

// New wraps an existing client.
func New(client *redis.Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (b *Backend) Put(ctx context.Context, key string, value []byte) error {
	return b.client.Set(ctx, key, value, 0).Err()
}

func (b *Backend) AddMembers(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.client.SAdd(ctx, key, args...).Err()
}

func (b *Backend) Members(ctx context.Context, key string) ([]string, error) {
	members, err := b.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func (b *Backend) IsMember(ctx context.Context, key, member string) (bool, error) {
	return b.client.SIsMember(ctx, key, member).Result()
}

// Ping checks connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the client's connections.
func (b *Backend) Close() error {
	return b.client.Close()
}
