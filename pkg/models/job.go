package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus governs access to results. It only moves forward:
// PENDING -> RUNNING -> COMPLETED | FAILED.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further status transition is permitted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// JobStage is a descriptive progress marker, orthogonal to JobStatus.
type JobStage string

const (
	JobStageInitializing      JobStage = "INITIALIZING"
	JobStageSequenceRetrieval JobStage = "SEQUENCE_RETRIEVAL"
	JobStageAlignment         JobStage = "ALIGNMENT"
	JobStageCollectingResults JobStage = "COLLECTING_RESULTS"
	JobStageDone              JobStage = "DONE"
	JobStageError             JobStage = "ERROR"
)

// Valid reports whether s is a known stage.
func (s JobStage) Valid() bool {
	switch s {
	case JobStageInitializing, JobStageSequenceRetrieval, JobStageAlignment,
		JobStageCollectingResults, JobStageDone, JobStageError:
		return true
	}
	return false
}

// MaxErrorMessageLen bounds JobRecord.ErrorMessage.
const MaxErrorMessageLen = 1000

// DefaultRetention is how long a job record is kept after creation.
const DefaultRetention = 30 * 24 * time.Hour

// JobRecord tracks one submitted pipeline request. The API returns it on
// POST /api/pipeline-job/; clients poll GET /api/pipeline-job/{id} until the
// status is COMPLETED or FAILED.
type JobRecord struct {
	ID                 uuid.UUID  `db:"id"                  json:"job_id"`
	Status             JobStatus  `db:"status"              json:"status"`
	Stage              JobStage   `db:"stage"               json:"stage"`
	CreatedAt          time.Time  `db:"created_at"          json:"created_at"`
	CompletedAt        *time.Time `db:"completed_at"        json:"completed_at,omitempty"`
	InputCount         int        `db:"input_count"         json:"input_count"`
	SequencesProcessed int        `db:"sequences_processed" json:"sequences_processed"`
	ExecutionHandle    string     `db:"execution_handle"    json:"execution_handle,omitempty"`
	ResultLocation     string     `db:"result_location"     json:"result_location,omitempty"`
	ErrorMessage       string     `db:"error_message"       json:"error_message,omitempty"`
	ExpiresAt          time.Time  `db:"expires_at"          json:"expires_at"`
}

// NewJobRecord returns a PENDING/INITIALIZING record for a request with
// inputCount sequence regions.
func NewJobRecord(inputCount int, now time.Time, retention time.Duration) *JobRecord {
	if retention <= 0 {
		retention = DefaultRetention
	}
	now = now.UTC()
	return &JobRecord{
		ID:         uuid.New(),
		Status:     JobStatusPending,
		Stage:      JobStageInitializing,
		CreatedAt:  now,
		InputCount: inputCount,
		ExpiresAt:  now.Add(retention),
	}
}

// Name is the execution name used for the job's pipeline run.
func (j *JobRecord) Name() string {
	return ExecutionName(j.ID)
}

// Expired reports whether the retention deadline has passed at now.
func (j *JobRecord) Expired(now time.Time) bool {
	return !j.ExpiresAt.IsZero() && !now.Before(j.ExpiresAt)
}

// Started reports whether an execution handle has been recorded.
func (j *JobRecord) Started() bool {
	return j.ExecutionHandle != ""
}

// Clone returns a deep copy of the record.
func (j *JobRecord) Clone() *JobRecord {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ExecutionName returns the deterministic pipeline execution name for a job.
func ExecutionName(id uuid.UUID) string {
	return "pavi-job-" + id.String()
}
