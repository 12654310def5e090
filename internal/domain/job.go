package domain

import "encoding/json"

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further backend-side transition will happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// AnalysisJob is a read-only view of a backend-side unit of work, obtained by
// polling. The backend owns the job; the gateway only observes it.
type AnalysisJob struct {
	ID           string
	Status       JobStatus
	Progress     int
	Result       json.RawMessage
	ErrorMessage string
}
