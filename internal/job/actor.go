package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher fires a job at the external compute worker and returns the
// correlation id the worker will echo back in its callbacks.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec *Record) (string, error)
}

// Actor is the single writer for one job record. All transitions for a job id
// run one at a time under the actor's lock; different jobs share nothing.
// Every successful transition is persisted before it is broadcast, and a
// failed persist rolls the operation back so memory never diverges from
// durable state.
type Actor struct {
	mu         sync.Mutex
	logger     *slog.Logger
	store      Store
	dispatcher Dispatcher
	maxRetries int
	hub        *Hub
	rec        *Record
	stopped    bool
}

// ActorConfig carries the collaborators an actor needs.
type ActorConfig struct {
	Logger     *slog.Logger
	Store      Store
	Dispatcher Dispatcher
	MaxRetries int
}

// NewActor creates an actor owning the given record. The record must already
// be persisted; the actor takes ownership of it.
func NewActor(rec *Record, cfg *ActorConfig) *Actor {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Actor{
		logger:     cfg.Logger.With(slog.String("job_id", rec.ID)),
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		maxRetries: maxRetries,
		hub:        NewHub(),
		rec:        rec,
	}
}

// Snapshot returns a read-only copy of the current record.
func (a *Actor) Snapshot() *Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec.Clone()
}

// Subscribe registers a live observer. The subscriber receives the current
// snapshot first, then every subsequent event in applied order.
func (a *Actor) Subscribe(sub Subscriber) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrActorStopped
	}
	a.hub.Register(sub, snapshotEvent(a.rec, time.Now().UTC()))
	return nil
}

// Unsubscribe removes a live observer.
func (a *Actor) Unsubscribe(sub Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hub.Unregister(sub)
}

// ApplyStart moves a pending job to processing and stamps started_at once.
// It emits no event; observers learn of activity from the first progress
// signal. No-op on terminal or already-processing jobs.
func (a *Actor) ApplyStart(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrActorStopped
	}
	if IsTerminal(a.rec.Status) || a.rec.Status == StatusProcessing {
		return nil
	}

	now := time.Now().UTC()
	next := a.rec.Clone()
	markStarted(next, now)

	if err := a.persist(ctx, next); err != nil {
		return err
	}
	a.rec = next
	return nil
}

// ApplyProgress records a worker progress report. Valid while processing; a
// pending job is started implicitly so the first report after dispatch or
// after a retry re-queue is not lost. Regressing percentages, terminal
// records, and signals identical to the last applied one are silent no-ops.
func (a *Actor) ApplyProgress(ctx context.Context, percent int, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrActorStopped
	}
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: progress percent %d out of range", ErrValidation, percent)
	}
	if IsTerminal(a.rec.Status) {
		return nil
	}

	sig := fmt.Sprintf("progress:%d:%s", percent, message)
	if sig == a.rec.LastSignal {
		a.logger.Debug("Duplicate progress signal ignored",
			slog.Int("percent", percent),
		)
		return nil
	}
	if percent < a.rec.Progress {
		a.logger.Debug("Stale progress signal ignored",
			slog.Int("percent", percent),
			slog.Int("current", a.rec.Progress),
		)
		return nil
	}

	now := time.Now().UTC()
	next := a.rec.Clone()
	markStarted(next, now)
	next.Progress = percent
	next.ProgressMessage = message
	next.LastSignal = sig
	next.UpdatedAt = now

	if err := a.persist(ctx, next); err != nil {
		return err
	}
	a.rec = next

	a.hub.Broadcast(Event{
		Type:       EventProgress,
		JobID:      next.ID,
		Status:     next.Status,
		Progress:   next.Progress,
		Message:    next.ProgressMessage,
		RetryCount: next.RetryCount,
		Timestamp:  now,
	})
	return nil
}

// ApplyComplete finalizes a job successfully: status complete, progress 100,
// output_ref and completed_at set. Terminal records are silent no-ops.
func (a *Actor) ApplyComplete(ctx context.Context, outputRef string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrActorStopped
	}
	if outputRef == "" {
		return fmt.Errorf("%w: output_ref is required on completion", ErrValidation)
	}
	if IsTerminal(a.rec.Status) {
		return nil
	}

	now := time.Now().UTC()
	next := a.rec.Clone()
	markStarted(next, now)
	next.Status = StatusComplete
	next.Progress = 100
	next.OutputRef = outputRef
	next.CompletedAt = &now
	next.LastSignal = "complete:" + outputRef
	next.UpdatedAt = now

	if err := a.persist(ctx, next); err != nil {
		return err
	}
	a.rec = next

	a.logger.Info("Job completed",
		slog.String("output_ref", outputRef),
	)
	a.hub.Broadcast(Event{
		Type:       EventComplete,
		JobID:      next.ID,
		Status:     next.Status,
		Progress:   next.Progress,
		OutputRef:  next.OutputRef,
		RetryCount: next.RetryCount,
		Timestamp:  now,
	})
	return nil
}

// ApplyError records a worker failure. A retryable failure inside the retry
// bound re-queues the job (status back to pending, retry_count incremented,
// a retrying progress event emitted, and the job re-dispatched); anything
// else finalizes the job as error. Terminal records are silent no-ops.
//
// Identical error signals are deliberately not deduplicated: consecutive
// retry attempts legitimately fail with the same message and each one must
// consume retry budget.
func (a *Actor) ApplyError(ctx context.Context, message string, retryable bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrActorStopped
	}
	if IsTerminal(a.rec.Status) {
		return nil
	}

	now := time.Now().UTC()
	next := a.rec.Clone()
	markStarted(next, now)

	if retryable && ShouldRetry(next.RetryCount, a.maxRetries) {
		next.RetryCount++
		next.Status = StatusPending
		next.LastSignal = fmt.Sprintf("retry:%d:%s", next.RetryCount, message)
		next.UpdatedAt = now

		if err := a.persist(ctx, next); err != nil {
			return err
		}
		a.rec = next

		a.logger.Warn("Job re-queued after retryable failure",
			slog.String("reason", message),
			slog.Int("retry_count", next.RetryCount),
			slog.Int("max_retries", a.maxRetries),
		)
		a.hub.Broadcast(Event{
			Type:       EventProgress,
			JobID:      next.ID,
			Status:     next.Status,
			Progress:   next.Progress,
			Message:    fmt.Sprintf("retrying after error: %s (attempt %d of %d)", message, next.RetryCount, a.maxRetries),
			RetryCount: next.RetryCount,
			Timestamp:  now,
		})

		if a.dispatcher != nil {
			go a.redispatch(next.Clone())
		}
		return nil
	}

	next.Status = StatusError
	next.ErrorMessage = message
	next.CompletedAt = &now
	next.LastSignal = "error:" + message
	next.UpdatedAt = now

	if err := a.persist(ctx, next); err != nil {
		return err
	}
	a.rec = next

	a.logger.Error("Job failed",
		slog.String("reason", message),
		slog.Bool("retryable", retryable),
		slog.Int("retry_count", next.RetryCount),
	)
	a.hub.Broadcast(Event{
		Type:       EventError,
		JobID:      next.ID,
		Status:     next.Status,
		Progress:   next.Progress,
		Message:    next.ErrorMessage,
		RetryCount: next.RetryCount,
		Timestamp:  now,
	})
	return nil
}

// ApplyDispatched records the correlation id returned by the worker dispatch
// call. It emits no event.
func (a *Actor) ApplyDispatched(ctx context.Context, workerRef string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrActorStopped
	}
	if IsTerminal(a.rec.Status) {
		return nil
	}

	next := a.rec.Clone()
	next.ExternalWorkerRef = workerRef
	next.UpdatedAt = time.Now().UTC()

	if err := a.persist(ctx, next); err != nil {
		return err
	}
	a.rec = next
	return nil
}

// Delete removes the job's durable record and stops the actor. Rejected with
// ErrConflict while the job is processing. Returns the final snapshot so the
// caller can clean up referenced storage objects.
func (a *Actor) Delete(ctx context.Context) (*Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return nil, ErrActorStopped
	}
	if a.rec.Status == StatusProcessing {
		return nil, ErrConflict
	}

	if err := a.store.Delete(ctx, a.rec.ID); err != nil {
		a.logger.Error("Failed to delete job record, durability at risk",
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	a.stopped = true
	a.hub.CloseAll()
	a.logger.Info("Job deleted")
	return a.rec.Clone(), nil
}

// Stop detaches all subscribers and rejects further operations without
// touching the durable record. Used on process shutdown.
func (a *Actor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	a.hub.CloseAll()
}

// persist writes the candidate record through to the store. On failure the
// caller keeps the previous in-memory state and must not broadcast.
func (a *Actor) persist(ctx context.Context, next *Record) error {
	if err := a.store.Save(ctx, next); err != nil {
		a.logger.Error("Failed to persist job transition, durability at risk",
			slog.String("status", next.Status),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// redispatch fires the job at the worker again after a retry re-queue. Runs
// outside the actor's lock so a slow broker never blocks transitions.
func (a *Actor) redispatch(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workerRef, err := a.dispatcher.Dispatch(ctx, rec)
	if err != nil {
		a.logger.Error("Failed to re-dispatch job after retryable failure",
			slog.Int("retry_count", rec.RetryCount),
			slog.Any("error", err),
		)
		return
	}
	if err := a.ApplyDispatched(ctx, workerRef); err != nil {
		a.logger.Error("Failed to record worker ref after re-dispatch",
			slog.String("external_worker_ref", workerRef),
			slog.Any("error", err),
		)
	}
}

// markStarted applies the pending -> processing edge in-place on a candidate
// record, stamping started_at only once.
func markStarted(next *Record, now time.Time) {
	if next.Status != StatusPending {
		return
	}
	next.Status = StatusProcessing
	if next.StartedAt == nil {
		t := now
		next.StartedAt = &t
	}
	next.UpdatedAt = now
}
