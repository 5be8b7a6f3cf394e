package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/internal/api/handler"
	"github.com/kiranshivaraju/pavi/internal/cache"
	"github.com/kiranshivaraju/pavi/internal/jobs"
	"github.com/kiranshivaraju/pavi/internal/loki"
	"github.com/kiranshivaraju/pavi/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock Loki client ---

type mockLoki struct {
	lines []models.LogLine
	err   error
	reqs  []loki.QueryRangeRequest
}

func (m *mockLoki) QueryRange(_ context.Context, req loki.QueryRangeRequest) ([]models.LogLine, error) {
	m.reqs = append(m.reqs, req)
	return m.lines, m.err
}

func (m *mockLoki) Ready(context.Context) error { return nil }

func finishedJob() *models.JobRecord {
	job := testJob(models.JobStatusFailed)
	done := created.Add(3 * time.Minute)
	job.CompletedAt = &done
	return job
}

func sampleLines() []models.LogLine {
	return []models.LogLine{
		{Timestamp: created.Add(time.Second), Task: "retrieve", Message: "retrieving C12C8.3a"},
		{Timestamp: created.Add(2 * time.Second), Task: "align", Message: "clustalo exited with status 1\n"},
	}
}

func logsRequest(id uuid.UUID, query string) *http.Request {
	return httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/pipeline-job/%s/logs%s", id, query), nil)
}

const logsPattern = "/api/pipeline-job/{id}/logs"

func TestLogs_TerminalJob(t *testing.T) {
	job := finishedJob()
	lk := &mockLoki{lines: sampleLines()}
	h := handler.NewLogsHandler(&mockJobs{GetWithSyncFunc: returningJob(job, nil)}, lk, nil, handler.LogsConfig{})

	w := serve(logsPattern, h, logsRequest(job.ID, ""))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t,
		"2025-03-01T12:00:01.000Z [retrieve] retrieving C12C8.3a\n"+
			"2025-03-01T12:00:02.000Z [align] clustalo exited with status 1\n",
		w.Body.String())

	require.Len(t, lk.reqs, 1)
	req := lk.reqs[0]
	assert.Equal(t, `{app="pavi-pipeline", execution="pavi-job-`+job.ID.String()+`"}`, req.Query)
	assert.Equal(t, job.CreatedAt.Add(-time.Minute), req.Start)
	assert.Equal(t, job.CompletedAt.Add(5*time.Minute), req.End)
	assert.Equal(t, 1000, req.Limit)
	assert.Equal(t, "forward", req.Direction)
}

func TestLogs_Filters(t *testing.T) {
	job := finishedJob()
	lk := &mockLoki{lines: sampleLines()}
	h := handler.NewLogsHandler(&mockJobs{GetWithSyncFunc: returningJob(job, nil)}, lk, nil,
		handler.LogsConfig{App: "pavi-dev"})

	w := serve(logsPattern, h, logsRequest(job.ID, "?task=align&level=error,warn&q=clustalo&limit=99999"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, lk.reqs, 1)
	assert.Equal(t,
		`{app="pavi-dev", execution="pavi-job-`+job.ID.String()+`", task="align"} |= `+"`clustalo`"+` | level =~ "(?i)(error|warn)"`,
		lk.reqs[0].Query)
	assert.Equal(t, 5000, lk.reqs[0].Limit)
}

func TestLogs_InvalidLimit(t *testing.T) {
	job := finishedJob()
	h := handler.NewLogsHandler(&mockJobs{GetWithSyncFunc: returningJob(job, nil)}, &mockLoki{}, nil, handler.LogsConfig{})

	w := serve(logsPattern, h, logsRequest(job.ID, "?limit=-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogs_RunningJobRejected(t *testing.T) {
	job := testJob(models.JobStatusRunning)
	lk := &mockLoki{}
	h := handler.NewLogsHandler(&mockJobs{GetWithSyncFunc: returningJob(job, nil)}, lk, nil, handler.LogsConfig{})

	w := serve(logsPattern, h, logsRequest(job.ID, ""))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	code, msg := errorOf(t, w)
	assert.Equal(t, "LOGS_NOT_READY", code)
	assert.Equal(t, "Logs can only be retrieved for failed or completed jobs ("+job.ID.String()+" is not yet)", msg)
	assert.Empty(t, lk.reqs)
}

func TestLogs_JobNotFound(t *testing.T) {
	h := handler.NewLogsHandler(&mockJobs{GetWithSyncFunc: returningJob(nil, jobs.ErrNotFound)}, &mockLoki{}, nil, handler.LogsConfig{})

	w := serve(logsPattern, h, logsRequest(uuid.New(), ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogs_NoLines(t *testing.T) {
	job := finishedJob()
	h := handler.NewLogsHandler(&mockJobs{GetWithSyncFunc: returningJob(job, nil)}, &mockLoki{lines: []models.LogLine{}}, nil, handler.LogsConfig{})

	w := serve(logsPattern, h, logsRequest(job.ID, ""))

	assert.Equal(t, http.StatusNotFound, w.Code)
	_, msg := errorOf(t, w)
	assert.Equal(t, "Job found but no logs found.", msg)
}

func TestLogs_LokiErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: dial tcp", loki.ErrLokiUnreachable), http.StatusBadGateway, "LOGS_UNAVAILABLE"},
		{fmt.Errorf("%w: status 400", loki.ErrLokiQueryError), http.StatusBadGateway, "LOGS_UNAVAILABLE"},
		{fmt.Errorf("%w: deadline", loki.ErrLokiTimeout), http.StatusGatewayTimeout, "LOGS_TIMEOUT"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			job := finishedJob()
			h := handler.NewLogsHandler(&mockJobs{GetWithSyncFunc: returningJob(job, nil)}, &mockLoki{err: tc.err}, nil, handler.LogsConfig{})

			w := serve(logsPattern, h, logsRequest(job.ID, ""))

			assert.Equal(t, tc.status, w.Code)
			code, _ := errorOf(t, w)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestLogs_UnfilteredResultIsCached(t *testing.T) {
	job := finishedJob()
	lk := &mockLoki{lines: sampleLines()}
	c := cache.NewMemoryCache()
	h := handler.NewLogsHandler(&mockJobs{GetWithSyncFunc: returningJob(job, nil)}, lk, c, handler.LogsConfig{})

	first := serve(logsPattern, h, logsRequest(job.ID, ""))
	second := serve(logsPattern, h, logsRequest(job.ID, ""))

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Len(t, lk.reqs, 1)

	cached, ok, err := c.Get(context.Background(), cache.LogsKey(job.ID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(cached), "2025-03-01T12:00:01.000Z"))

	// Filtered queries bypass the cache.
	filtered := serve(logsPattern, h, logsRequest(job.ID, "?task=align"))
	require.Equal(t, http.StatusOK, filtered.Code)
	assert.Len(t, lk.reqs, 2)
}
