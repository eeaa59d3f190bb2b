package job

import "time"

// Job status values as they appear on the wire and in the database.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusError      = "error"
)

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusComplete || status == StatusError
}

// Record is the durable state of one export job. It is owned exclusively by
// the job's actor and persisted write-through after every mutation.
type Record struct {
	ID                string     `db:"job_id" json:"job_id"`
	ProjectRef        string     `db:"project_ref" json:"project_ref"`
	Type              string     `db:"job_type" json:"job_type"`
	Status            string     `db:"status" json:"status"`
	Progress          int        `db:"progress" json:"progress"`
	ProgressMessage   string     `db:"progress_message" json:"progress_message,omitempty"`
	InputRef          string     `db:"input_ref" json:"input_ref"`
	OutputRef         string     `db:"output_ref" json:"output_ref,omitempty"`
	Params            string     `db:"params" json:"params,omitempty"`
	ErrorMessage      string     `db:"error_message" json:"error_message,omitempty"`
	RetryCount        int        `db:"retry_count" json:"retry_count"`
	ExternalWorkerRef string     `db:"external_worker_ref" json:"external_worker_ref,omitempty"`
	LastSignal        string     `db:"last_signal" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	StartedAt         *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Event types pushed to subscribers.
const (
	EventSnapshot = "snapshot"
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one message on a subscriber stream. Events for a given job are
// delivered in the order the actor applied them.
type Event struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message,omitempty"`
	OutputRef  string    `json:"output_ref,omitempty"`
	RetryCount int       `json:"retry_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// snapshotEvent builds the initial event sent to a newly registered subscriber.
func snapshotEvent(rec *Record, at time.Time) Event {
	return Event{
		Type:       EventSnapshot,
		JobID:      rec.ID,
		Status:     rec.Status,
		Progress:   rec.Progress,
		Message:    rec.ProgressMessage,
		OutputRef:  rec.OutputRef,
		RetryCount: rec.RetryCount,
		Timestamp:  at,
	}
}
