package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

var (
	ErrNotFound           = errors.New("job not found")
	ErrPreconditionFailed = errors.New("job status precondition failed")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	// ErrUnavailable wraps transient persistence failures. It is never used for a missing record.
	ErrUnavailable = errors.New("job store unavailable")
)

// Store is the data access interface. All job persistence goes through here.
type Store interface {
	Ping(ctx context.Context) error

	// PutJob inserts or fully overwrites a record.
	PutJob(ctx context.Context, job *models.JobRecord) error
	// GetJob returns ErrNotFound for absent or expired records.
	GetJob(ctx context.Context, id uuid.UUID) (*models.JobRecord, error)
	// UpdateJob atomically applies opts and returns the stored result.
	UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.JobRecord, error)
	// PurgeExpired removes records whose ExpiresAt is not after now.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)

	Close() error
}

type jobUpdateParams struct {
	Status             *models.JobStatus
	Stage              *models.JobStage
	ExecutionHandle    *string
	CompletedAt        *time.Time
	ResultLocation     *string
	ErrorMessage       *string
	SequencesProcessed *int
	IfStatus           []models.JobStatus
}

// JobUpdateOption sets one field of a partial update.
type JobUpdateOption func(*jobUpdateParams)

func WithStatus(status models.JobStatus) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Status = &status
	}
}

func WithStage(stage models.JobStage) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Stage = &stage
	}
}

func WithExecutionHandle(handle string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ExecutionHandle = &handle
	}
}

func WithCompletedAt(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		t = t.UTC()
		p.CompletedAt = &t
	}
}

func WithResultLocation(uri string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ResultLocation = &uri
	}
}

// WithErrorMessage truncates msg to models.MaxErrorMessageLen.
func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		msg = Truncate(msg, models.MaxErrorMessageLen)
		p.ErrorMessage = &msg
	}
}

// WithSequencesProcessed never lowers the stored counter.
func WithSequencesProcessed(n int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.SequencesProcessed = &n
	}
}

// IfStatus makes the update conditional on the current status being one of statuses.
func IfStatus(statuses ...models.JobStatus) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.IfStatus = append(p.IfStatus, statuses...)
	}
}

func newUpdateParams(opts []JobUpdateOption) *jobUpdateParams {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusFailed},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

// apply checks the precondition and transition rules against current and
// mutates it in place. Every driver funnels its read-modify-write through here.
func (p *jobUpdateParams) apply(current *models.JobRecord) error {
	if len(p.IfStatus) > 0 && !slices.Contains(p.IfStatus, current.Status) {
		return fmt.Errorf("%w: status is %s", ErrPreconditionFailed, current.Status)
	}

	if p.Status != nil && *p.Status != current.Status {
		if !slices.Contains(validTransitions[current.Status], *p.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, *p.Status)
		}
		current.Status = *p.Status
	}
	if p.Stage != nil {
		current.Stage = *p.Stage
	}
	if p.ExecutionHandle != nil && current.ExecutionHandle == "" {
		current.ExecutionHandle = *p.ExecutionHandle
	}
	if p.CompletedAt != nil && current.CompletedAt == nil {
		t := *p.CompletedAt
		current.CompletedAt = &t
	}
	if p.ResultLocation != nil {
		current.ResultLocation = *p.ResultLocation
	}
	if p.ErrorMessage != nil {
		current.ErrorMessage = *p.ErrorMessage
	}
	if p.SequencesProcessed != nil && *p.SequencesProcessed > current.SequencesProcessed {
		current.SequencesProcessed = *p.SequencesProcessed
	}
	return nil
}

// Truncate keeps the first n characters (runes) of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
