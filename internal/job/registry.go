package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry maps job ids to their actors and is the single-writer enforcement
// point: within one process there is never more than one actor per job id.
// Routing to a job that is not resident re-hydrates its actor from the store,
// which is what makes in-flight jobs survive a process restart.
type Registry struct {
	mu         sync.Mutex
	logger     *slog.Logger
	store      Store
	dispatcher Dispatcher
	maxRetries int
	actors     map[string]*Actor
}

// RegistryConfig carries the registry's collaborators.
type RegistryConfig struct {
	Logger     *slog.Logger
	Store      Store
	Dispatcher Dispatcher
	MaxRetries int
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *RegistryConfig) *Registry {
	return &Registry{
		logger:     cfg.Logger,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		maxRetries: cfg.MaxRetries,
		actors:     make(map[string]*Actor),
	}
}

// GetOrCreate returns the actor for rec.ID, creating it if needed. Idempotent:
// a resident actor wins, then a persisted record, and only then is rec saved
// as a new pending job and an actor spun up for it.
func (r *Registry) GetOrCreate(ctx context.Context, rec *Record) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if actor, ok := r.actors[rec.ID]; ok {
		return actor, nil
	}

	existing, err := r.store.Load(ctx, rec.ID)
	switch {
	case err == nil:
		return r.resident(existing), nil
	case errors.Is(err, ErrJobNotFound):
		// First reference: persist the new pending record.
	default:
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	now := time.Now().UTC()
	rec.Status = StatusPending
	rec.Progress = 0
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	if err := r.store.Save(ctx, rec); err != nil {
		r.logger.Error("Failed to persist new job record",
			slog.String("job_id", rec.ID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	r.logger.Info("Job created",
		slog.String("job_id", rec.ID),
		slog.String("job_type", rec.Type),
		slog.String("project_ref", rec.ProjectRef),
	)
	return r.resident(rec), nil
}

// Get returns the actor for jobID, loading the persisted record if the actor
// is not resident. Returns ErrJobNotFound when the job exists nowhere.
func (r *Registry) Get(ctx context.Context, jobID string) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if actor, ok := r.actors[jobID]; ok {
		return actor, nil
	}

	rec, err := r.store.Load(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	r.logger.Info("Job actor re-hydrated from store",
		slog.String("job_id", jobID),
		slog.String("status", rec.Status),
	)
	return r.resident(rec), nil
}

// Delete removes the job's durable record and retires its actor. Rejected
// with ErrConflict while the job is processing. Returns the final snapshot.
func (r *Registry) Delete(ctx context.Context, jobID string) (*Record, error) {
	actor, err := r.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	rec, err := actor.Delete(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	delete(r.actors, jobID)
	r.mu.Unlock()
	return rec, nil
}

// Shutdown detaches all subscribers and retires every resident actor. Durable
// records are untouched; actors re-hydrate on next reference.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, actor := range r.actors {
		actor.Stop()
		delete(r.actors, id)
	}
}

// Resident returns the number of in-memory actors.
func (r *Registry) Resident() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// resident installs an actor for rec and returns it. Caller holds r.mu.
func (r *Registry) resident(rec *Record) *Actor {
	actor := NewActor(rec, &ActorConfig{
		Logger:     r.logger,
		Store:      r.store,
		Dispatcher: r.dispatcher,
		MaxRetries: r.maxRetries,
	})
	r.actors[rec.ID] = actor
	return actor
}
