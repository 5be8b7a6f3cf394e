// Package handler holds the HTTP handlers for the pipeline-job API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/internal/api/response"
	"github.com/kiranshivaraju/pavi/internal/jobs"
	"github.com/kiranshivaraju/pavi/internal/store"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

// maxRequestBytes bounds a job submission body.
const maxRequestBytes = 4 << 20

// JobService defines the job operations the handlers depend on.
// *jobs.Orchestrator satisfies it.
type JobService interface {
	Create(ctx context.Context, regions []models.SeqRegion) (*models.JobRecord, error)
	StartAsync(id uuid.UUID, regions []models.SeqRegion)
	GetWithSync(ctx context.Context, id uuid.UUID) (*models.JobRecord, error)
	FetchResult(ctx context.Context, id uuid.UUID, artifact jobs.Artifact) ([]byte, error)
}

var _ JobService = (*jobs.Orchestrator)(nil)

// JobView is the JSON shape of a job.
type JobView struct {
	UUID               uuid.UUID  `json:"uuid"`
	Name               string     `json:"name"`
	Status             string     `json:"status"`
	Stage              string     `json:"stage,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	InputCount         int        `json:"input_count"`
	SequencesProcessed int        `json:"sequences_processed"`
	ResultS3URI        string     `json:"result_s3_uri,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
}

// NewJobView renders job for clients. Status is lowercase.
func NewJobView(job *models.JobRecord) JobView {
	return JobView{
		UUID:               job.ID,
		Name:               job.Name(),
		Status:             strings.ToLower(string(job.Status)),
		Stage:              string(job.Stage),
		CreatedAt:          job.CreatedAt,
		CompletedAt:        job.CompletedAt,
		InputCount:         job.InputCount,
		SequencesProcessed: job.SequencesProcessed,
		ResultS3URI:        job.ResultLocation,
		ErrorMessage:       job.ErrorMessage,
	}
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/pipeline-job/.
// The job is stored PENDING and its pipeline started in the background.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var regions []models.SeqRegion
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err := dec.Decode(&regions); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Body must be a JSON array of sequence regions", nil)
			return
		}

		job, err := svc.Create(r.Context(), regions)
		if err != nil {
			writeJobError(w, r, err)
			return
		}

		svc.StartAsync(job.ID, regions)
		response.Created(w, NewJobView(job))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/pipeline-job/{id}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}

		job, err := svc.GetWithSync(r.Context(), id)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.JSON(w, NewJobView(job))
	}
}

// NewResultHandler returns an http.HandlerFunc for
// GET /api/pipeline-job/{id}/result/{artifact}. The artifact bytes are
// returned unwrapped with the artifact's content type.
func NewResultHandler(svc JobService, readTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		artifact, err := jobs.ParseArtifact(chi.URLParam(r, "artifact"))
		if err != nil {
			writeJobError(w, r, err)
			return
		}

		ctx := r.Context()
		if readTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, readTimeout)
			defer cancel()
		}

		data, err := svc.FetchResult(ctx, id, artifact)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.Raw(w, artifact.ContentType(), data)
	}
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Job id must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// writeJobError maps job errors onto HTTP responses.
func writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	var notReady *jobs.NotReadyError
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found.", nil)
	case errors.As(err, &notReady):
		response.Error(w, http.StatusBadRequest, "RESULT_NOT_READY", notReady.Error(),
			map[string]string{"status": strings.ToLower(string(notReady.Status))})
	case errors.Is(err, jobs.ErrUnknownArtifact):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Unknown result artifact", nil)
	case errors.Is(err, jobs.ErrInvalidInput):
		response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, jobs.ErrExecutionStartFailed):
		response.Error(w, http.StatusBadGateway, "EXECUTION_START_FAILED",
			"The pipeline execution could not be started", nil)
	case errors.Is(err, jobs.ErrIntegrity):
		slog.Error("result missing for completed job", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "RESULT_MISSING", "Result file not found.", nil)
	case errors.Is(err, store.ErrUnavailable):
		slog.Error("job store unavailable", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "STORE_UNAVAILABLE",
			"The job store is unavailable", nil)
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(w, http.StatusGatewayTimeout, "TIMEOUT", "The request took too long and was cancelled", nil)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
