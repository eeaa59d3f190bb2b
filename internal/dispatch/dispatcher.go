// Package dispatch fires export jobs at the external compute worker over
// RabbitMQ. The worker processes out-of-band and reports back through the
// callback ingress, correlated by the ref generated here.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"exportd/internal/job"
	"exportd/shared/rabbitmq"

	"github.com/google/uuid"
)

// message is the dispatch payload published for the compute worker.
type message struct {
	JobID      string          `json:"job_id"`
	WorkerRef  string          `json:"worker_ref"`
	JobType    string          `json:"job_type"`
	ProjectRef string          `json:"project_ref"`
	InputRef   string          `json:"input_ref"`
	RetryCount int             `json:"retry_count"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// Dispatcher publishes dispatch messages and assigns correlation ids.
type Dispatcher struct {
	logger *slog.Logger
	client *rabbitmq.Client
}

// NewDispatcher creates a dispatcher on top of an established RabbitMQ client.
func NewDispatcher(logger *slog.Logger, client *rabbitmq.Client) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		client: client,
	}
}

// Dispatch publishes the job for the external worker and returns the
// correlation id the worker echoes back in its callbacks. The publish path
// retries with backoff; an error here means dispatch failed outright and the
// caller must retry itself.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *job.Record) (string, error) {
	workerRef := uuid.New().String()

	msg := message{
		JobID:      rec.ID,
		WorkerRef:  workerRef,
		JobType:    rec.Type,
		ProjectRef: rec.ProjectRef,
		InputRef:   rec.InputRef,
		RetryCount: rec.RetryCount,
	}
	if rec.Params != "" {
		msg.Params = json.RawMessage(rec.Params)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	if err := d.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return "", fmt.Errorf("failed to dispatch job %s: %w", rec.ID, err)
	}

	d.logger.Info("Job dispatched to worker",
		slog.String("job_id", rec.ID),
		slog.String("worker_ref", workerRef),
		slog.Int("retry_count", rec.RetryCount),
	)
	return workerRef, nil
}
