package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/internal/store"
	"github.com/kiranshivaraju/pavi/pkg/models"
	"golang.org/x/sync/singleflight"
)

// Fixed error messages recorded for executions that did not fail on their own.
const (
	MsgTimedOut        = "Execution timed out"
	MsgAborted         = "Execution was aborted"
	MsgMissingResult   = "Execution output missing result_s3_uri"
	defaultErrorName   = "Unknown error"
	defaultErrorDetail = "No details available"
)

// nonTerminal guards every reconciliation write.
var nonTerminal = []models.JobStatus{models.JobStatusPending, models.JobStatusRunning}

// Reconciler folds backend-reported execution state into the job store.
type Reconciler struct {
	store   store.Store
	backend models.ExecutionBackend
	now     func() time.Time
	logger  *slog.Logger
	group   singleflight.Group
}

func NewReconciler(st store.Store, backend models.ExecutionBackend, now func() time.Time, logger *slog.Logger) *Reconciler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: st, backend: backend, now: now, logger: logger}
}

// Reconcile brings job id up to date with its execution and returns the
// stored record. Terminal jobs and jobs without an execution handle are
// returned unchanged. If the backend cannot be reached the error matches
// ErrReconciliationUnavailable and the record is the stored one.
// Concurrent calls for the same id share one backend round trip.
func (r *Reconciler) Reconcile(ctx context.Context, id uuid.UUID) (*models.JobRecord, error) {
	v, err, _ := r.group.Do(id.String(), func() (any, error) {
		return r.reconcile(ctx, id)
	})
	job, _ := v.(*models.JobRecord)
	if job != nil {
		job = job.Clone()
	}
	return job, err
}

func (r *Reconciler) reconcile(ctx context.Context, id uuid.UUID) (*models.JobRecord, error) {
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	if job.Status.Terminal() || !job.Started() {
		return job, nil
	}

	desc, err := r.backend.Describe(ctx, job.ExecutionHandle)
	if err != nil {
		return job, fmt.Errorf("%w: %w", ErrReconciliationUnavailable, err)
	}

	opts := r.fold(job, desc)
	if len(opts) == 0 {
		return job, nil
	}
	opts = append(opts, store.IfStatus(nonTerminal...))

	updated, err := r.store.UpdateJob(ctx, id, opts...)
	switch {
	case err == nil:
		if updated.Status.Terminal() {
			r.logger.Info("job reached terminal status",
				"job_id", id, "status", updated.Status, "execution_status", desc.Status)
		}
		return updated, nil
	case errors.Is(err, store.ErrPreconditionFailed):
		// Another reader folded first; theirs is the record of truth.
		return r.reread(ctx, id)
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	default:
		return job, err
	}
}

func (r *Reconciler) reread(ctx context.Context, id uuid.UUID) (*models.JobRecord, error) {
	job, err := r.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, err
}

// fold translates desc into store updates. It returns nil when nothing changes.
func (r *Reconciler) fold(job *models.JobRecord, desc models.ExecutionDescription) []store.JobUpdateOption {
	var opts []store.JobUpdateOption
	if desc.SequencesProcessed > job.SequencesProcessed {
		opts = append(opts, store.WithSequencesProcessed(desc.SequencesProcessed))
	}

	switch desc.Status {
	case models.ExecutionSucceeded:
		var out models.ExecutionOutput
		if err := json.Unmarshal(desc.Output, &out); err != nil || out.ResultS3URI == "" {
			r.logger.Error("execution succeeded without a result location",
				"job_id", job.ID, "execution", job.ExecutionHandle, "output", string(desc.Output))
			return append(opts, r.failed(MsgMissingResult)...)
		}
		return append(opts,
			store.WithStatus(models.JobStatusCompleted),
			store.WithStage(models.JobStageDone),
			store.WithCompletedAt(r.now()),
			store.WithResultLocation(out.ResultS3URI),
		)
	case models.ExecutionFailed:
		return append(opts, r.failed(orDefault(desc.Error, defaultErrorName)+": "+orDefault(desc.Cause, defaultErrorDetail))...)
	case models.ExecutionTimedOut:
		return append(opts, r.failed(MsgTimedOut)...)
	case models.ExecutionAborted:
		return append(opts, r.failed(MsgAborted)...)
	default:
		if desc.Stage.Valid() && desc.Stage != job.Stage {
			opts = append(opts, store.WithStage(desc.Stage))
		}
		return opts
	}
}

func (r *Reconciler) failed(msg string) []store.JobUpdateOption {
	return []store.JobUpdateOption{
		store.WithStatus(models.JobStatusFailed),
		store.WithStage(models.JobStageError),
		store.WithCompletedAt(r.now()),
		store.WithErrorMessage(msg),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
