// Package callback receives signals from the external compute worker,
// validates and deduplicates them, and forwards them to the addressed job
// actor through the registry.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"exportd/internal/job"
)

// Callback kinds accepted from the worker.
const (
	KindProgress = "progress"
	KindComplete = "complete"
	KindError    = "error"
)

// Payload is the body of one worker callback delivery. Deliveries may repeat;
// replays of an already-applied signal are acknowledged without effect.
type Payload struct {
	Kind      string `json:"kind"`
	WorkerRef string `json:"worker_ref,omitempty"`
	Percent   *int   `json:"percent,omitempty"`
	Message   string `json:"message,omitempty"`
	OutputRef string `json:"output_ref,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// Ingress validates inbound worker callbacks and routes them to job actors.
type Ingress struct {
	logger   *slog.Logger
	registry *job.Registry
}

// NewIngress creates a callback ingress backed by the given registry.
func NewIngress(logger *slog.Logger, registry *job.Registry) *Ingress {
	return &Ingress{
		logger:   logger,
		registry: registry,
	}
}

// Handle applies one worker callback to the addressed job. Malformed payloads
// fail with job.ErrValidation before any actor is touched; unknown job ids
// fail with job.ErrJobNotFound and cause no state change. Callbacks carrying
// a worker ref that does not match the job's current dispatch are stale
// deliveries from a superseded attempt and are acknowledged without effect.
func (i *Ingress) Handle(ctx context.Context, jobID string, p *Payload) error {
	if err := validate(p); err != nil {
		return err
	}

	actor, err := i.registry.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			i.logger.Warn("Callback for unknown job dropped",
				slog.String("job_id", jobID),
				slog.String("kind", p.Kind),
			)
		}
		return err
	}

	if p.WorkerRef != "" {
		current := actor.Snapshot().ExternalWorkerRef
		if current != "" && current != p.WorkerRef {
			i.logger.Warn("Callback from superseded worker attempt dropped",
				slog.String("job_id", jobID),
				slog.String("kind", p.Kind),
				slog.String("worker_ref", p.WorkerRef),
				slog.String("current_worker_ref", current),
			)
			return nil
		}
	}

	switch p.Kind {
	case KindProgress:
		return actor.ApplyProgress(ctx, *p.Percent, p.Message)
	case KindComplete:
		return actor.ApplyComplete(ctx, p.OutputRef)
	case KindError:
		retryable := p.Retryable != nil && *p.Retryable
		return actor.ApplyError(ctx, p.Message, retryable)
	default:
		return fmt.Errorf("%w: unknown callback kind %q", job.ErrValidation, p.Kind)
	}
}

// validate rejects malformed payloads synchronously.
func validate(p *Payload) error {
	switch p.Kind {
	case KindProgress:
		if p.Percent == nil {
			return fmt.Errorf("%w: progress callback requires percent", job.ErrValidation)
		}
		if *p.Percent < 0 || *p.Percent > 100 {
			return fmt.Errorf("%w: percent %d out of range", job.ErrValidation, *p.Percent)
		}
	case KindComplete:
		if p.OutputRef == "" {
			return fmt.Errorf("%w: complete callback requires output_ref", job.ErrValidation)
		}
	case KindError:
		if p.Message == "" {
			return fmt.Errorf("%w: error callback requires message", job.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown callback kind %q", job.ErrValidation, p.Kind)
	}
	return nil
}
