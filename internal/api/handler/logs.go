package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/internal/api/response"
	"github.com/kiranshivaraju/pavi/internal/cache"
	"github.com/kiranshivaraju/pavi/internal/loki"
	"github.com/kiranshivaraju/pavi/pkg/logql"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

const (
	defaultLogLimit = 1000
	maxLogLimit     = 5000
	defaultLogsTTL  = time.Hour

	// Log shipping lags the task; widen the window on both ends.
	logWindowBefore = time.Minute
	logWindowAfter  = 5 * time.Minute
)

// JobReader is the part of JobService the logs handler needs.
type JobReader interface {
	GetWithSync(ctx context.Context, id uuid.UUID) (*models.JobRecord, error)
}

// LogsConfig tunes the logs handler. Zero values pick the defaults.
type LogsConfig struct {
	App      string
	CacheTTL time.Duration
}

// NewLogsHandler returns an http.HandlerFunc for GET /api/pipeline-job/{id}/logs.
// Logs are only served once the job is COMPLETED or FAILED. Optional query
// parameters: task, level (comma separated), q (line substring), limit.
// The unfiltered log of a job never changes once it is terminal, so it is
// cached when c is non-nil.
func NewLogsHandler(svc JobReader, client loki.Client, c cache.Cache, cfg LogsConfig) http.HandlerFunc {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultLogsTTL
	}
	builder := logql.QueryBuilder{}

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		limit := defaultLogLimit
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxLogLimit)
		}
		params := logql.ExecutionParams{
			App:       cfg.App,
			Execution: models.ExecutionName(id),
			Task:      q.Get("task"),
			Keyword:   q.Get("q"),
		}
		if v := q.Get("level"); v != "" {
			params.Levels = strings.Split(v, ",")
		}
		cacheable := c != nil && params.Task == "" && params.Keyword == "" &&
			len(params.Levels) == 0 && limit == defaultLogLimit

		job, err := svc.GetWithSync(r.Context(), id)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		if !job.Status.Terminal() {
			response.Error(w, http.StatusBadRequest, "LOGS_NOT_READY",
				fmt.Sprintf("Logs can only be retrieved for failed or completed jobs (%s is not yet)", id), nil)
			return
		}

		key := cache.LogsKey(id)
		if cacheable {
			if data, hit, err := c.Get(r.Context(), key); err == nil && hit {
				response.Raw(w, "text/plain", data)
				return
			}
		}

		end := time.Now().UTC()
		if job.CompletedAt != nil {
			end = job.CompletedAt.Add(logWindowAfter)
		}
		lines, err := client.QueryRange(r.Context(), loki.QueryRangeRequest{
			Query:     builder.BuildExecutionQuery(params),
			Start:     job.CreatedAt.Add(-logWindowBefore),
			End:       end,
			Limit:     limit,
			Direction: "forward",
		})
		if err != nil {
			slog.Error("pipeline log query failed", "job_id", id, "error", err)
			if errors.Is(err, loki.ErrLokiTimeout) {
				response.Error(w, http.StatusGatewayTimeout, "LOGS_TIMEOUT", "Log retrieval took too long", nil)
				return
			}
			response.Error(w, http.StatusBadGateway, "LOGS_UNAVAILABLE", "Error occurred while retrieving logs.", nil)
			return
		}
		if len(lines) == 0 {
			response.Error(w, http.StatusNotFound, "LOGS_NOT_FOUND", "Job found but no logs found.", nil)
			return
		}

		body := renderLogLines(lines)
		if cacheable {
			if err := c.Set(r.Context(), key, body, cfg.CacheTTL); err != nil {
				slog.Warn("caching pipeline logs failed", "job_id", id, "error", err)
			}
		}
		response.Raw(w, "text/plain", body)
	}
}

// renderLogLines formats one line per entry: timestamp, task, message.
func renderLogLines(lines []models.LogLine) []byte {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
		if l.Task != "" {
			b.WriteString(" [")
			b.WriteString(l.Task)
			b.WriteString("]")
		}
		b.WriteString(" ")
		b.WriteString(strings.TrimRight(l.Message, "\n"))
		b.WriteString("\n")
	}
	return []byte(b.String())
}
