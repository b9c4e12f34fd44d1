package http

import "atelier/internal/model"

// ErrorResponse is the error envelope shared by every endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// SubmitJobResponse acknowledges an accepted batch. Processing
// continues in the background; callers poll or stream for progress.
type SubmitJobResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Total   int    `json:"total"`
	Status  string `json:"status"`
}

// JobResponse wraps a job snapshot for the poll endpoint.
type JobResponse struct {
	Success bool            `json:"success"`
	Job     *model.Snapshot `json:"job,omitempty"`
}
