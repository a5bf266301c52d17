package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// BreakerConfig tunes the circuit breaker in front of a backend.
type BreakerConfig struct {
	Threshold       int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBreakerConfig trips after 5 consecutive failures and probes again
// after 5s, backing off to 1m.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:       5,
		InitialInterval: 5 * time.Second,
		MaxInterval:     time.Minute,
	}
}

// GuardedBackend wraps a Backend with a circuit breaker. While the breaker
// is open every call fails fast with ErrStorageUnavailable. Absent keys are
// not failures.
type GuardedBackend struct {
	backend Backend
	breaker *circuit.Breaker
}

// NewGuardedBackend wraps b.
func NewGuardedBackend(b Backend, cfg BreakerConfig) *GuardedBackend {
	if cfg.Threshold <= 0 {
		cfg = DefaultBreakerConfig()
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.InitialInterval
	expBackoff.MaxInterval = cfg.MaxInterval
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	opts := &circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(int64(cfg.Threshold)),
	}
	return &GuardedBackend{
		backend: b,
		breaker: circuit.NewBreakerWithOptions(opts),
	}
}

// State returns "open" while the breaker is tripped, otherwise "closed".
func (g *GuardedBackend) State() string {
	if g.breaker.Tripped() {
		return "open"
	}
	return "closed"
}

func (g *GuardedBackend) call(op string, fn func() error) error {
	if !g.breaker.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", op, ErrStorageUnavailable)
	}

	var result error
	err := g.breaker.Call(func() error {
		result = fn()
		if errors.Is(result, ErrNotFound) {
			return nil
		}
		return result
	}, 0)
	if result != nil {
		return result
	}
	return err
}

func (g *GuardedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := g.call("get", func() error {
		var err error
		out, err = g.backend.Get(ctx, key)
		return err
	})
	return out, err
}

func (g *GuardedBackend) Put(ctx context.Context, key string, value []byte) error {
	return g.call("put", func() error {
		return g.backend.Put(ctx, key, value)
	})
}

func (g *GuardedBackend) AddMembers(ctx context.Context, key string, members ...string) error {
	return g.call("addmembers", func() error {
		return g.backend.AddMembers(ctx, key, members...)
	})
}

func (g *GuardedBackend) Members(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := g.call("members", func() error {
		var err error
		out, err = g.backend.Members(ctx, key)
		return err
	})
	return out, err
}

func (g *GuardedBackend) IsMember(ctx context.Context, key, member string) (bool, error) {
	var ok bool
	err := g.call("ismember", func() error {
		var err error
		ok, err = g.backend.IsMember(ctx, key, member)
		return err
	})
	return ok, err
}

func (g *GuardedBackend) Close() error {
	return g.backend.Close()
}

// Unwrap returns the guarded backend.
func (g *GuardedBackend) Unwrap() Backend {
	return g.backend
}
