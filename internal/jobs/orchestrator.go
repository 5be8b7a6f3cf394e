// Package jobs creates pipeline jobs, starts their executions and keeps job
// records in step with the execution backend.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/internal/cache"
	"github.com/kiranshivaraju/pavi/internal/objectstore"
	"github.com/kiranshivaraju/pavi/internal/store"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

const (
	defaultStartTimeout = 2 * time.Minute
	defaultResultTTL    = time.Hour
)

// Orchestrator is the entry point for everything that touches a job. It is
// safe for concurrent use.
type Orchestrator struct {
	store      store.Store
	backend    models.ExecutionBackend
	objects    objectstore.Reader
	reconciler *Reconciler

	cache        cache.Cache
	resultTTL    time.Duration
	jobQueueARN  string
	retention    time.Duration
	startTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger

	background sync.WaitGroup
}

type Option func(*Orchestrator)

// WithResultCache keeps fetched artifacts in c for ttl. Artifacts of a
// completed job never change, so a hit skips the object store.
func WithResultCache(c cache.Cache, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.cache = c
		if ttl > 0 {
			o.resultTTL = ttl
		}
	}
}

// WithJobQueue sets the batch queue handed to every execution.
func WithJobQueue(arn string) Option {
	return func(o *Orchestrator) {
		o.jobQueueARN = arn
	}
}

func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.retention = d
	}
}

// WithStartTimeout bounds each StartAsync call.
func WithStartTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.startTimeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func NewOrchestrator(st store.Store, backend models.ExecutionBackend, objects objectstore.Reader, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        st,
		backend:      backend,
		objects:      objects,
		resultTTL:    defaultResultTTL,
		retention:    models.DefaultRetention,
		startTimeout: defaultStartTimeout,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.reconciler = NewReconciler(st, backend, o.now, o.logger)
	return o
}

// Create validates regions and stores a new PENDING job. Nothing is submitted.
func (o *Orchestrator) Create(ctx context.Context, regions []models.SeqRegion) (*models.JobRecord, error) {
	if err := models.ValidateRegions(regions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	job := models.NewJobRecord(len(regions), o.now(), o.retention)
	if err := o.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	o.logger.Info("created pipeline job", "job_id", job.ID, "input_count", job.InputCount)
	return job, nil
}

// Start submits the pipeline for a PENDING job. A job that has already left
// PENDING is returned as is without contacting the backend. A rejected start
// marks the job FAILED and returns an *ExecutionStartError.
func (o *Orchestrator) Start(ctx context.Context, id uuid.UUID, regions []models.SeqRegion) (*models.JobRecord, error) {
	job, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPending {
		return job, nil
	}
	if len(regions) != job.InputCount {
		return nil, fmt.Errorf("%w: job %s expects %d regions, got %d", ErrInvalidInput, id, job.InputCount, len(regions))
	}

	handle, startErr := o.backend.Start(ctx, models.StartRequest{
		ExecutionName: job.Name(),
		Input: models.ExecutionInput{
			JobID:       id.String(),
			SeqRegions:  regions,
			JobQueueARN: o.jobQueueARN,
		},
	})

	// The outcome must be recorded even if ctx ended while the backend call
	// was in flight.
	recordCtx := context.WithoutCancel(ctx)

	if startErr != nil {
		o.logger.Error("pipeline start failed", "job_id", id, "backend", o.backend.Name(), "error", startErr)
		failed, err := o.store.UpdateJob(recordCtx, id,
			store.IfStatus(models.JobStatusPending),
			store.WithStatus(models.JobStatusFailed),
			store.WithStage(models.JobStageError),
			store.WithCompletedAt(o.now()),
			store.WithErrorMessage(startErr.Error()),
		)
		if err != nil {
			failed, err = o.afterLostRace(recordCtx, id, err)
			if err != nil {
				return nil, err
			}
		}
		return failed, &ExecutionStartError{JobID: id, Err: startErr}
	}

	started, err := o.store.UpdateJob(recordCtx, id,
		store.IfStatus(models.JobStatusPending),
		store.WithStatus(models.JobStatusRunning),
		store.WithExecutionHandle(handle),
	)
	if err != nil {
		return o.afterLostRace(recordCtx, id, err)
	}

	o.logger.Info("started pipeline job", "job_id", id, "backend", o.backend.Name(), "execution", handle)
	return started, nil
}

// afterLostRace resolves a failed conditional update: if another caller moved
// the job out of PENDING first, its record is returned.
func (o *Orchestrator) afterLostRace(ctx context.Context, id uuid.UUID, err error) (*models.JobRecord, error) {
	switch {
	case errors.Is(err, store.ErrPreconditionFailed):
		return o.Get(ctx, id)
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	default:
		return nil, fmt.Errorf("recording start of job %s: %w", id, err)
	}
}

// StartAsync runs Start in the background. Failures are logged; the job
// record carries the outcome.
func (o *Orchestrator) StartAsync(id uuid.UUID, regions []models.SeqRegion) {
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("panic in background start", "error", r, "job_id", id)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), o.startTimeout)
		defer cancel()

		if _, err := o.Start(ctx, id, regions); err != nil {
			o.logger.Error("background start failed", "job_id", id, "error", err)
		}
	}()
}

// Wait blocks until every StartAsync call has returned.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// Get returns the stored record without contacting the backend.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*models.JobRecord, error) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return job, nil
}

// GetWithSync returns the job after reconciling it with its execution. If the
// backend cannot be reached the last stored record is returned.
func (o *Orchestrator) GetWithSync(ctx context.Context, id uuid.UUID) (*models.JobRecord, error) {
	job, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	synced, err := o.reconciler.Reconcile(ctx, id)
	switch {
	case err == nil:
		return synced, nil
	case errors.Is(err, ErrReconciliationUnavailable):
		o.logger.Warn("job status sync skipped", "job_id", id, "error", err)
		if synced != nil {
			return synced, nil
		}
		return job, nil
	default:
		return nil, err
	}
}

// FetchResult returns the bytes of artifact for a COMPLETED job. Other
// statuses yield a *NotReadyError. A completed job whose artifact is missing
// yields ErrIntegrity.
func (o *Orchestrator) FetchResult(ctx context.Context, id uuid.UUID, artifact Artifact) ([]byte, error) {
	job, err := o.GetWithSync(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, &NotReadyError{Status: job.Status, Stage: job.Stage, ErrorMessage: job.ErrorMessage}
	}

	uri, err := Locate(job, artifact)
	if err != nil {
		return nil, err
	}

	key := cache.ResultKey(id, string(artifact))
	if o.cache != nil {
		if data, ok, err := o.cache.Get(ctx, key); err == nil && ok {
			return data, nil
		}
	}

	data, err := o.objects.Get(ctx, uri)
	if err != nil {
		if objectstore.IsNotFound(err) {
			o.logger.Error("completed job result missing", "job_id", id, "uri", uri)
			return nil, fmt.Errorf("%w: %s", ErrIntegrity, uri)
		}
		return nil, fmt.Errorf("reading %s: %w", uri, err)
	}

	if o.cache != nil {
		if err := o.cache.Set(ctx, key, data, o.resultTTL); err != nil {
			o.logger.Warn("caching result failed", "job_id", id, "error", err)
		}
	}
	return data, nil
}

// Backend returns the execution backend jobs are started on.
func (o *Orchestrator) Backend() models.ExecutionBackend {
	return o.backend
}
