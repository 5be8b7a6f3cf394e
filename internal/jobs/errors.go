package jobs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

var (
	ErrNotFound                  = errors.New("job not found")
	ErrInvalidInput              = errors.New("invalid job input")
	ErrUnknownArtifact           = errors.New("unknown result artifact")
	ErrNotReady                  = errors.New("job result not ready")
	ErrExecutionStartFailed      = errors.New("pipeline execution start failed")
	ErrReconciliationUnavailable = errors.New("execution status unavailable")
	// ErrIntegrity means a COMPLETED job's artifact is missing from the object store.
	ErrIntegrity = errors.New("job result missing from object store")
)

// NotReadyError is returned when a result is requested from a job that has
// not completed. It matches ErrNotReady.
type NotReadyError struct {
	Status       models.JobStatus
	Stage        models.JobStage
	ErrorMessage string
}

func (e *NotReadyError) Error() string {
	if e.Status == models.JobStatusFailed {
		msg := e.ErrorMessage
		if msg == "" {
			msg = "Job execution failed"
		}
		return "Job failed: " + msg
	}
	return fmt.Sprintf("Results not ready. Job status: %s", strings.ToLower(string(e.Status)))
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

// ExecutionStartError is returned when the backend rejects a start. The job
// has been marked FAILED by the time the caller sees it.
type ExecutionStartError struct {
	JobID uuid.UUID
	Err   error
}

func (e *ExecutionStartError) Error() string {
	return fmt.Sprintf("starting pipeline for job %s: %v", e.JobID, e.Err)
}

func (e *ExecutionStartError) Unwrap() error {
	return e.Err
}

func (e *ExecutionStartError) Is(target error) bool {
	return target == ErrExecutionStartFailed
}
