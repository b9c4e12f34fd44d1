package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a batch job. Transitions
// are monotonic: queued -> processing -> one of the terminal states.
// Centralizing these here avoids scattering string literals like
// "queued" or "completed_with_errors" across packages.
type JobStatus string

const (
	JobQueued              JobStatus = "queued"
	JobProcessing          JobStatus = "processing"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobFailed              JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobFailed:
		return true
	}
	return false
}

// TaskStatus represents the lifecycle state of a single file task
// within a job.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// FileTask is one unit of work within a job: a single garment image to
// describe. Payload holds the raw image bytes for the lifetime of the
// task only; the registry drops it once the task resolves so that a
// large batch does not pin all of its uploads in memory at once.
type FileTask struct {
	ID           uuid.UUID  `json:"id"`
	Order        int        `json:"order"`
	OriginalName string     `json:"originalName"`
	Size         int64      `json:"size"`
	MimeType     string     `json:"mimeType"`
	Status       TaskStatus `json:"status"`
	DurationMs   int64      `json:"durationMs,omitempty"`
	Error        string     `json:"error,omitempty"`

	Payload []byte `json:"-"`
}

// ResultRecord captures the outcome of one successfully described image.
type ResultRecord struct {
	TaskID      uuid.UUID `json:"taskId"`
	Description string    `json:"description"`
	Tokens      int       `json:"tokens,omitempty"`
	DurationMs  int64     `json:"durationMs"`
}

// ErrorRecord captures the failure of one task. Failures never escape
// into sibling tasks; they are recorded here and reflected in counters.
type ErrorRecord struct {
	TaskID  uuid.UUID `json:"taskId"`
	Message string    `json:"message"`
}

// Report is the finalized export artifact for a job.
type Report struct {
	Filename string
	Bytes    []byte
}

// FileView is the per-file projection exposed in snapshots. It mirrors
// FileTask minus the raw payload.
type FileView struct {
	ID           uuid.UUID  `json:"id"`
	Order        int        `json:"order"`
	OriginalName string     `json:"originalName"`
	Size         int64      `json:"size"`
	MimeType     string     `json:"mimeType"`
	Status       TaskStatus `json:"status"`
	DurationMs   int64      `json:"durationMs,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Snapshot is a read-only projection of a job's current state plus
// derived progress fields. It never exposes internal-only state such as
// subscriber handles or raw image payloads.
type Snapshot struct {
	ID              uuid.UUID      `json:"id"`
	Status          JobStatus      `json:"status"`
	Total           int            `json:"total"`
	Completed       int            `json:"completed"`
	Failed          int            `json:"failed"`
	ProgressPercent int            `json:"progressPercent"`
	EtaSeconds      int64          `json:"etaSeconds"`
	TokensUsed      int            `json:"tokensUsed,omitempty"`
	Files           []FileView     `json:"files"`
	Results         []ResultRecord `json:"results"`
	Errors          []ErrorRecord  `json:"errors"`
	DownloadReady   bool           `json:"downloadReady"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Resolved reports whether every task has reached a terminal task state.
func (s *Snapshot) Resolved() bool {
	return s.Completed+s.Failed == s.Total
}
