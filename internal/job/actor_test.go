package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore wraps a MemoryStore and fails writes on demand.
type failingStore struct {
	*MemoryStore
	failSaves bool
}

func (s *failingStore) Save(ctx context.Context, rec *Record) error {
	if s.failSaves {
		return errors.New("disk on fire")
	}
	return s.MemoryStore.Save(ctx, rec)
}

// recordingSub collects every event it is sent.
type recordingSub struct {
	mu     sync.Mutex
	events []Event
	failed bool
	closed bool
}

func (s *recordingSub) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return errors.New("connection gone")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSub) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls int
	refs  []string
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, rec *Record) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	ref := fmt.Sprintf("worker-ref-%d", d.calls)
	d.refs = append(d.refs, ref)
	return ref, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestRecord(id string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:         id,
		ProjectRef: "proj-1",
		Type:       "video_export",
		Status:     StatusPending,
		InputRef:   "uploads/" + id + ".mov",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func newTestActor(t *testing.T, rec *Record) (*Actor, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), rec))
	actor := NewActor(rec, &ActorConfig{
		Logger:     testLogger(),
		Store:      store,
		MaxRetries: DefaultMaxRetries,
	})
	return actor, store
}

func TestActor_CompletionFlow(t *testing.T) {
	ctx := context.Background()
	actor, store := newTestActor(t, newTestRecord("j1"))

	sub := &recordingSub{}
	require.NoError(t, actor.Subscribe(sub))

	require.NoError(t, actor.ApplyStart(ctx))
	require.NoError(t, actor.ApplyProgress(ctx, 10, "decoding"))
	require.NoError(t, actor.ApplyProgress(ctx, 55, "encoding"))
	require.NoError(t, actor.ApplyComplete(ctx, "final/j1.mp4"))

	snap := actor.Snapshot()
	assert.Equal(t, StatusComplete, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "final/j1.mp4", snap.OutputRef)
	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.CompletedAt)

	events := sub.Events()
	require.Len(t, events, 4)
	assert.Equal(t, EventSnapshot, events[0].Type)
	assert.Equal(t, StatusPending, events[0].Status)
	assert.Equal(t, 0, events[0].Progress)
	assert.Equal(t, EventProgress, events[1].Type)
	assert.Equal(t, 10, events[1].Progress)
	assert.Equal(t, EventProgress, events[2].Type)
	assert.Equal(t, 55, events[2].Progress)
	assert.Equal(t, EventComplete, events[3].Type)
	assert.Equal(t, "final/j1.mp4", events[3].OutputRef)

	// The terminal state is what the store holds too
	stored, err := store.Load(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, stored.Status)
	assert.Equal(t, "final/j1.mp4", stored.OutputRef)
}

func TestActor_ProgressMonotonicAndIdempotent(t *testing.T) {
	ctx := context.Background()
	actor, _ := newTestActor(t, newTestRecord("j2"))

	sub := &recordingSub{}
	require.NoError(t, actor.Subscribe(sub))

	require.NoError(t, actor.ApplyStart(ctx))
	require.NoError(t, actor.ApplyProgress(ctx, 40, "encoding"))

	// Regressions are silent no-ops
	require.NoError(t, actor.ApplyProgress(ctx, 25, "encoding"))
	assert.Equal(t, 40, actor.Snapshot().Progress)

	// Replayed identical signal changes nothing and broadcasts nothing
	before := actor.Snapshot()
	require.NoError(t, actor.ApplyProgress(ctx, 40, "encoding"))
	after := actor.Snapshot()
	assert.Equal(t, before.Progress, after.Progress)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	events := sub.Events()
	require.Len(t, events, 2) // snapshot + single progress(40)
	assert.Equal(t, EventProgress, events[1].Type)
	assert.Equal(t, 40, events[1].Progress)
}

func TestActor_ProgressAutoStartsPendingJob(t *testing.T) {
	ctx := context.Background()
	actor, _ := newTestActor(t, newTestRecord("j3"))

	require.NoError(t, actor.ApplyProgress(ctx, 5, "warming up"))

	snap := actor.Snapshot()
	assert.Equal(t, StatusProcessing, snap.Status)
	assert.Equal(t, 5, snap.Progress)
	require.NotNil(t, snap.StartedAt)
}

func TestActor_ProgressRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	actor, _ := newTestActor(t, newTestRecord("j4"))

	err := actor.ApplyProgress(ctx, 101, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	err = actor.ApplyProgress(ctx, -1, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestActor_RetryBound(t *testing.T) {
	ctx := context.Background()
	actor, _ := newTestActor(t, newTestRecord("j5"))

	sub := &recordingSub{}
	require.NoError(t, actor.Subscribe(sub))

	for i := 1; i <= 3; i++ {
		require.NoError(t, actor.ApplyStart(ctx))
		require.NoError(t, actor.ApplyError(ctx, "CUDA out of memory", true))

		snap := actor.Snapshot()
		assert.Equal(t, StatusPending, snap.Status, "attempt %d should re-queue", i)
		assert.Equal(t, i, snap.RetryCount)
	}

	// Fourth retryable failure exhausts the budget
	require.NoError(t, actor.ApplyStart(ctx))
	require.NoError(t, actor.ApplyError(ctx, "CUDA out of memory", true))

	snap := actor.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, 3, snap.RetryCount)
	assert.Equal(t, "CUDA out of memory", snap.ErrorMessage)

	events := sub.Events()
	require.Len(t, events, 5) // snapshot + 3 retrying + terminal error
	for _, ev := range events[1:4] {
		assert.Equal(t, EventProgress, ev.Type)
		assert.Equal(t, StatusPending, ev.Status)
	}
	assert.Equal(t, EventError, events[4].Type)
}

func TestActor_NonRetryableErrorIsTerminal(t *testing.T) {
	ctx := context.Background()
	actor, _ := newTestActor(t, newTestRecord("j6"))

	require.NoError(t, actor.ApplyStart(ctx))
	require.NoError(t, actor.ApplyError(ctx, "unsupported codec", false))

	snap := actor.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, 0, snap.RetryCount)
	assert.Equal(t, "unsupported codec", snap.ErrorMessage)
}

func TestActor_TerminalImmutability(t *testing.T) {
	ctx := context.Background()
	actor, _ := newTestActor(t, newTestRecord("j7"))

	require.NoError(t, actor.ApplyStart(ctx))
	require.NoError(t, actor.ApplyComplete(ctx, "final/j7.mp4"))

	frozen := actor.Snapshot()

	require.NoError(t, actor.ApplyStart(ctx))
	require.NoError(t, actor.ApplyProgress(ctx, 100, "late"))
	require.NoError(t, actor.ApplyError(ctx, "late failure", true))
	require.NoError(t, actor.ApplyComplete(ctx, "final/other.mp4"))

	snap := actor.Snapshot()
	assert.Equal(t, frozen.Status, snap.Status)
	assert.Equal(t, frozen.Progress, snap.Progress)
	assert.Equal(t, frozen.OutputRef, snap.OutputRef)
	assert.Equal(t, frozen.RetryCount, snap.RetryCount)
	assert.Equal(t, frozen.UpdatedAt, snap.UpdatedAt)
	assert.Equal(t, *frozen.CompletedAt, *snap.CompletedAt)
}

func TestActor_PersistenceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecord("j8")
	store := &failingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, store.MemoryStore.Save(ctx, rec))

	actor := NewActor(rec, &ActorConfig{
		Logger:     testLogger(),
		Store:      store,
		MaxRetries: DefaultMaxRetries,
	})

	sub := &recordingSub{}
	require.NoError(t, actor.Subscribe(sub))
	require.NoError(t, actor.ApplyStart(ctx))

	store.failSaves = true
	err := actor.ApplyProgress(ctx, 60, "encoding")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	// In-memory state did not advance and nothing was broadcast
	snap := actor.Snapshot()
	assert.Equal(t, 0, snap.Progress)
	assert.Equal(t, StatusProcessing, snap.Status)
	require.Len(t, sub.Events(), 1) // the registration snapshot only

	// The operation succeeds once durability is back
	store.failSaves = false
	require.NoError(t, actor.ApplyProgress(ctx, 60, "encoding"))
	assert.Equal(t, 60, actor.Snapshot().Progress)
	require.Len(t, sub.Events(), 2)
}

func TestActor_LateJoinerGetsCurrentSnapshotFirst(t *testing.T) {
	ctx := context.Background()
	actor, _ := newTestActor(t, newTestRecord("j9"))

	require.NoError(t, actor.ApplyStart(ctx))
	require.NoError(t, actor.ApplyProgress(ctx, 30, "encoding"))
	require.NoError(t, actor.ApplyProgress(ctx, 70, "encoding"))

	late := &recordingSub{}
	require.NoError(t, actor.Subscribe(late))

	events := late.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventSnapshot, events[0].Type)
	assert.Equal(t, StatusProcessing, events[0].Status)
	assert.Equal(t, 70, events[0].Progress)

	require.NoError(t, actor.ApplyComplete(ctx, "final/j9.mp4"))
	events = late.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventComplete, events[1].Type)
}

func TestActor_RetryRedispatchesThroughDispatcher(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecord("j10")
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, rec))

	dispatcher := &fakeDispatcher{}
	actor := NewActor(rec, &ActorConfig{
		Logger:     testLogger(),
		Store:      store,
		Dispatcher: dispatcher,
		MaxRetries: DefaultMaxRetries,
	})

	require.NoError(t, actor.ApplyStart(ctx))
	require.NoError(t, actor.ApplyError(ctx, "transient GPU fault", true))

	require.Eventually(t, func() bool {
		return actor.Snapshot().ExternalWorkerRef == "worker-ref-1"
	}, time.Second, 10*time.Millisecond)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Equal(t, 1, dispatcher.calls)
}

func TestActor_DeleteConflictsWhileProcessing(t *testing.T) {
	ctx := context.Background()
	actor, store := newTestActor(t, newTestRecord("j11"))

	require.NoError(t, actor.ApplyStart(ctx))

	_, err := actor.Delete(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, actor.ApplyComplete(ctx, "final/j11.mp4"))

	rec, err := actor.Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, "final/j11.mp4", rec.OutputRef)

	_, err = store.Load(ctx, "j11")
	assert.ErrorIs(t, err, ErrJobNotFound)

	// The actor is retired: further operations are rejected
	assert.ErrorIs(t, actor.ApplyStart(ctx), ErrActorStopped)
}
