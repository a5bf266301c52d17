package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardedBackendTrips(t *testing.T) {
	flaky := &flakyBackend{MemoryBackend: NewMemoryBackend(), failOn: map[string]bool{"get": true}}
	guarded := NewGuardedBackend(flaky, BreakerConfig{Threshold: 2, InitialInterval: time.Minute, MaxInterval: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := guarded.Get(ctx, "k")
		require.ErrorIs(t, err, errBackendDown)
	}
	assert.Equal(t, "open", guarded.State())

	// Further calls fail fast without reaching the backend.
	flaky.mu.Lock()
	flaky.failOn = nil
	flaky.mu.Unlock()
	_, err := guarded.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.False(t, errors.Is(err, errBackendDown))
}

func TestGuardedBackendNotFoundIsNotFailure(t *testing.T) {
	guarded := NewGuardedBackend(NewMemoryBackend(), BreakerConfig{Threshold: 2, InitialInterval: time.Minute, MaxInterval: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := guarded.Get(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, "closed", guarded.State())
}

func TestGuardedBackendPassesThrough(t *testing.T) {
	guarded := NewGuardedBackend(NewMemoryBackend(), DefaultBreakerConfig())
	store := NewStore(guarded)
	ctx := context.Background()

	require.NoError(t, store.Ingest(ctx, "demo", "1.0", demoFields("1.0")))
	v, err := store.GetMetadata(ctx, "DEMO", "")
	require.NoError(t, err)
	assert.Equal(t, "1.0", v.Version)

	ok, err := guarded.IsMember(ctx, KeyAllNames, "demo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, guarded.Close())
}
