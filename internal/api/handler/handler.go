package handler

import (
	"context"
	"log/slog"

	"exportd/internal/callback"
	"exportd/internal/job"
	"exportd/internal/storage"
)

// JobLister is the read side used for listing jobs.
type JobLister interface {
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]job.Record, error)
}

// ObjectCleaner removes externally stored media objects when a job is
// deleted. The object storage service behind it is an external collaborator.
type ObjectCleaner interface {
	Remove(ctx context.Context, ref string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger           *slog.Logger
	Registry         *job.Registry
	Ingress          *callback.Ingress
	Dispatcher       job.Dispatcher
	Lister           JobLister
	Cleaner          ObjectCleaner
	SubscriberBuffer int
	PublicBaseURL    string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger           *slog.Logger
	registry         *job.Registry
	ingress          *callback.Ingress
	dispatcher       job.Dispatcher
	lister           JobLister
	cleaner          ObjectCleaner
	subscriberBuffer int
	publicBaseURL    string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	buffer := deps.SubscriberBuffer
	if buffer <= 0 {
		buffer = 32
	}
	return &JobHandler{
		logger:           deps.Logger,
		registry:         deps.Registry,
		ingress:          deps.Ingress,
		dispatcher:       deps.Dispatcher,
		lister:           deps.Lister,
		cleaner:          deps.Cleaner,
		subscriberBuffer: buffer,
		publicBaseURL:    deps.PublicBaseURL,
	}
}
