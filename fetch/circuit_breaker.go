package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// CircuitBreakerFetcher wraps a Fetcher with one circuit breaker per
// upstream host. Not-found responses do not count as failures.
type CircuitBreakerFetcher struct {
	fetcher   *Fetcher
	threshold int64
	initial   time.Duration
	max       time.Duration
	breakers  map[string]*circuit.Breaker
	mu        sync.RWMutex
}

// BreakerOption configures a CircuitBreakerFetcher.
type BreakerOption func(*CircuitBreakerFetcher)

// WithTripThreshold sets the number of failures that open a breaker.
func WithTripThreshold(n int) BreakerOption {
	return func(cbf *CircuitBreakerFetcher) {
		if n > 0 {
			cbf.threshold = int64(n)
		}
	}
}

// WithBreakerBackoff sets how long an open breaker waits before probing
// the host again, growing from initial to max.
func WithBreakerBackoff(initial, max time.Duration) BreakerOption {
	return func(cbf *CircuitBreakerFetcher) {
		if initial > 0 {
			cbf.initial = initial
		}
		if max > 0 {
			cbf.max = max
		}
	}
}

// NewCircuitBreakerFetcher creates a new circuit breaker wrapper for a fetcher.
func NewCircuitBreakerFetcher(f *Fetcher, opts ...BreakerOption) *CircuitBreakerFetcher {
	cbf := &CircuitBreakerFetcher{
		fetcher:   f,
		threshold: 5,
		initial:   30 * time.Second,
		max:       5 * time.Minute,
		breakers:  make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(cbf)
	}
	return cbf
}

// getBreaker returns or creates the circuit breaker for host.
func (cbf *CircuitBreakerFetcher) getBreaker(host string) *circuit.Breaker {
	cbf.mu.RLock()
	breaker, exists := cbf.breakers[host]
	cbf.mu.RUnlock()

	if exists {
		return breaker
	}

	cbf.mu.Lock()
	defer cbf.mu.Unlock()

	if breaker, exists := cbf.breakers[host]; exists {
		return breaker
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cbf.initial
	expBackoff.MaxInterval = cbf.max
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(cbf.threshold),
	})

	cbf.breakers[host] = breaker
	return breaker
}

// call runs fn under the breaker for rawURL's host.
func (cbf *CircuitBreakerFetcher) call(rawURL string, fn func() error) error {
	host := extractHost(rawURL)
	breaker := cbf.getBreaker(host)

	if !breaker.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	var result error
	err := breaker.Call(func() error {
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

// Fetch wraps the underlying fetcher's Fetch with circuit breaker logic.
func (cbf *CircuitBreakerFetcher) Fetch(ctx context.Context, fetchURL string) (*Response, error) {
	var resp *Response
	err := cbf.call(fetchURL, func() error {
		var fetchErr error
		resp, fetchErr = cbf.fetcher.Fetch(ctx, fetchURL)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchJSON wraps the underlying fetcher's FetchJSON with circuit breaker
// logic.
func (cbf *CircuitBreakerFetcher) FetchJSON(ctx context.Context, fetchURL string, v any) error {
	return cbf.call(fetchURL, func() error {
		return cbf.fetcher.FetchJSON(ctx, fetchURL, v)
	})
}

// Head wraps the underlying fetcher's Head with circuit breaker logic.
func (cbf *CircuitBreakerFetcher) Head(ctx context.Context, headURL string) (size int64, contentType string, err error) {
	err = cbf.call(headURL, func() error {
		var headErr error
		size, contentType, headErr = cbf.fetcher.Head(ctx, headURL)
		return headErr
	})
	return size, contentType, err
}

// extractHost returns the host used to group breakers.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}

// GetBreakerState returns the current state of circuit breakers (for health checks).
func (cbf *CircuitBreakerFetcher) GetBreakerState() map[string]string {
	cbf.mu.RLock()
	defer cbf.mu.RUnlock()

	states := make(map[string]string)
	for host, breaker := range cbf.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}
