package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(store Store) *Registry {
	return NewRegistry(&RegistryConfig{
		Logger:     testLogger(),
		Store:      store,
		MaxRetries: DefaultMaxRetries,
	})
}

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	registry := newTestRegistry(store)

	first, err := registry.GetOrCreate(ctx, newTestRecord("j1"))
	require.NoError(t, err)

	second, err := registry.GetOrCreate(ctx, newTestRecord("j1"))
	require.NoError(t, err)

	// Exactly one actor instance per job id
	assert.Same(t, first, second)
	assert.Equal(t, 1, registry.Resident())
	assert.Equal(t, 1, store.Len())
}

func TestRegistry_GetOrCreatePersistsPendingRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	registry := newTestRegistry(store)

	_, err := registry.GetOrCreate(ctx, newTestRecord("j2"))
	require.NoError(t, err)

	stored, err := store.Load(ctx, "j2")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, 0, stored.Progress)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestRegistry_GetUnknownJob(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(NewMemoryStore())

	_, err := registry.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Equal(t, 0, registry.Resident())
}

func TestRegistry_RecoversAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// First process: create a job and make some progress
	registry := newTestRegistry(store)
	actor, err := registry.GetOrCreate(ctx, newTestRecord("j3"))
	require.NoError(t, err)
	require.NoError(t, actor.ApplyStart(ctx))
	require.NoError(t, actor.ApplyProgress(ctx, 45, "encoding"))

	// Second process: fresh registry over the same durable store
	restarted := newTestRegistry(store)
	assert.Equal(t, 0, restarted.Resident())

	recovered, err := restarted.Get(ctx, "j3")
	require.NoError(t, err)

	snap := recovered.Snapshot()
	assert.Equal(t, StatusProcessing, snap.Status)
	assert.Equal(t, 45, snap.Progress)

	// Callbacks keep applying across the restart
	require.NoError(t, recovered.ApplyComplete(ctx, "final/j3.mp4"))
	assert.Equal(t, StatusComplete, recovered.Snapshot().Status)
}

func TestRegistry_DeleteLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	registry := newTestRegistry(store)

	actor, err := registry.GetOrCreate(ctx, newTestRecord("j4"))
	require.NoError(t, err)
	require.NoError(t, actor.ApplyStart(ctx))

	// Deleting a processing job is rejected with a conflict
	_, err = registry.Delete(ctx, "j4")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, registry.Resident())

	require.NoError(t, actor.ApplyComplete(ctx, "final/j4.mp4"))

	rec, err := registry.Delete(ctx, "j4")
	require.NoError(t, err)
	assert.Equal(t, "final/j4.mp4", rec.OutputRef)
	assert.Equal(t, 0, registry.Resident())

	_, err = registry.Get(ctx, "j4")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRegistry_DeleteUnknownJob(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(NewMemoryStore())

	_, err := registry.Delete(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRegistry_ShutdownDetachesSubscribers(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(NewMemoryStore())

	actor, err := registry.GetOrCreate(ctx, newTestRecord("j5"))
	require.NoError(t, err)

	sub := &recordingSub{}
	require.NoError(t, actor.Subscribe(sub))

	registry.Shutdown()

	assert.Equal(t, 0, registry.Resident())
	assert.True(t, sub.closed)
	assert.ErrorIs(t, actor.ApplyStart(ctx), ErrActorStopped)
}
