package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/internal/backend/mock"
	"github.com/kiranshivaraju/pavi/internal/cache"
	"github.com/kiranshivaraju/pavi/internal/jobs"
	"github.com/kiranshivaraju/pavi/internal/objectstore"
	"github.com/kiranshivaraju/pavi/internal/store"
	"github.com/kiranshivaraju/pavi/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeObjects struct {
	mu    sync.Mutex
	data  map[string][]byte
	reads int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: map[string][]byte{}}
}

func (f *fakeObjects) Get(_ context.Context, uri string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	d, ok := f.data[uri]
	if !ok {
		return nil, &objectstore.Error{Op: "Get", Scheme: "s3", Key: uri, Err: objectstore.ErrNotFound}
	}
	return d, nil
}

func regions(n int) []models.SeqRegion {
	out := make([]models.SeqRegion, n)
	for i := range out {
		out[i] = models.SeqRegion{
			BaseSeqName:    fmt.Sprintf("gene%d", i),
			UniqueEntryID:  fmt.Sprintf("entry-%d", i),
			SeqID:          "X",
			SeqStrand:      "+",
			FastaFileURL:   "s3://ref/genome.fa",
			ExonSeqRegions: []json.RawMessage{json.RawMessage(`"1..100"`)},
		}
	}
	return out
}

type harness struct {
	store   *store.MemoryStore
	backend *mock.MockBackend
	objects *fakeObjects
	orch    *jobs.Orchestrator
}

func newHarness(t *testing.T, b *mock.MockBackend, opts ...jobs.Option) *harness {
	t.Helper()
	h := &harness{
		store:   store.NewMemoryStore(),
		backend: b,
		objects: newFakeObjects(),
	}
	opts = append([]jobs.Option{
		jobs.WithClock(func() time.Time { return fixedNow }),
		jobs.WithJobQueue("arn:aws:batch:us-east-1:1:job-queue/pavi"),
	}, opts...)
	h.orch = jobs.NewOrchestrator(h.store, b, h.objects, opts...)
	return h
}

// started creates and starts a job with n regions.
func (h *harness) started(t *testing.T, n int) *models.JobRecord {
	t.Helper()
	rs := regions(n)
	job, err := h.orch.Create(context.Background(), rs)
	require.NoError(t, err)
	job, err = h.orch.Start(context.Background(), job.ID, rs)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusRunning, job.Status)
	return job
}

// --- Create ---

func TestCreate_Defaults(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())

	job, err := h.orch.Create(context.Background(), regions(3))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobStageInitializing, job.Stage)
	assert.Empty(t, job.ExecutionHandle)
	assert.Nil(t, job.CompletedAt)
	assert.Equal(t, 3, job.InputCount)
	assert.Equal(t, fixedNow, job.CreatedAt)
	assert.Equal(t, fixedNow.Add(models.DefaultRetention), job.ExpiresAt)
	assert.Empty(t, h.backend.Starts(), "create never contacts the backend")

	stored, err := h.orch.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, stored)
}

func TestCreate_InvalidRegions(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())

	_, err := h.orch.Create(context.Background(), nil)
	assert.ErrorIs(t, err, jobs.ErrInvalidInput)

	rs := regions(2)
	rs[1].UniqueEntryID = rs[0].UniqueEntryID
	_, err = h.orch.Create(context.Background(), rs)
	assert.ErrorIs(t, err, jobs.ErrInvalidInput)
}

func TestCreate_CustomRetention(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend(), jobs.WithRetention(time.Hour))
	job, err := h.orch.Create(context.Background(), regions(1))
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(time.Hour), job.ExpiresAt)
}

// --- Start ---

func TestStart_NotFound(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())
	_, err := h.orch.Start(context.Background(), uuid.New(), regions(1))
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	assert.Empty(t, h.backend.Starts())
}

func TestStart_RecordsHandle(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())
	job := h.started(t, 2)

	assert.Equal(t, "mock:pavi-job-"+job.ID.String(), job.ExecutionHandle)
	assert.Equal(t, models.JobStageInitializing, job.Stage)
	assert.Nil(t, job.CompletedAt)

	starts := h.backend.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, "pavi-job-"+job.ID.String(), starts[0].ExecutionName)
	assert.Equal(t, job.ID.String(), starts[0].Input.JobID)
	assert.Equal(t, "arn:aws:batch:us-east-1:1:job-queue/pavi", starts[0].Input.JobQueueARN)
	assert.Len(t, starts[0].Input.SeqRegions, 2)
}

func TestStart_TwiceDoesNotResubmitOrRollBack(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())
	job := h.started(t, 1)

	again, err := h.orch.Start(context.Background(), job.ID, regions(1))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, again.Status)
	assert.Equal(t, job.ExecutionHandle, again.ExecutionHandle)
	assert.Len(t, h.backend.Starts(), 1)
}

func TestStart_ConcurrentCallersKeepOneHandle(t *testing.T) {
	b := mock.NewMockBackend()
	var n int
	var mu sync.Mutex
	b.StartFunc = func(_ context.Context, req models.StartRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("mock:%s:%d", req.ExecutionName, n), nil
	}
	h := newHarness(t, b)
	rs := regions(1)
	job, err := h.orch.Create(context.Background(), rs)
	require.NoError(t, err)

	var wg sync.WaitGroup
	handles := make([]string, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := h.orch.Start(context.Background(), job.ID, rs)
			if assert.NoError(t, err) {
				handles[i] = got.ExecutionHandle
			}
		}(i)
	}
	wg.Wait()

	stored, err := h.orch.Get(context.Background(), job.ID)
	require.NoError(t, err)
	for _, handle := range handles {
		assert.Equal(t, stored.ExecutionHandle, handle)
	}
}

func TestStart_RegionCountMismatch(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())
	job, err := h.orch.Create(context.Background(), regions(2))
	require.NoError(t, err)

	_, err = h.orch.Start(context.Background(), job.ID, regions(1))
	assert.ErrorIs(t, err, jobs.ErrInvalidInput)
	assert.Empty(t, h.backend.Starts())
}

func TestStart_BackendFailureMarksJobFailed(t *testing.T) {
	cause := errors.New("StateMachineDoesNotExist: no such machine")
	h := newHarness(t, mock.NewFailingBackend(cause))
	job, err := h.orch.Create(context.Background(), regions(1))
	require.NoError(t, err)

	failed, err := h.orch.Start(context.Background(), job.ID, regions(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, jobs.ErrExecutionStartFailed)
	assert.ErrorIs(t, err, cause)

	var startErr *jobs.ExecutionStartError
	require.True(t, errors.As(err, &startErr))
	assert.Equal(t, job.ID, startErr.JobID)

	require.NotNil(t, failed)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, models.JobStageError, failed.Stage)
	assert.Equal(t, cause.Error(), failed.ErrorMessage)
	require.NotNil(t, failed.CompletedAt)
	assert.Empty(t, failed.ExecutionHandle)

	stored, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Zero(t, h.backend.DescribeCalls())
}

func TestStart_TimedOutStartStillRecorded(t *testing.T) {
	h := newHarness(t, mock.NewTimeoutBackend())
	job, err := h.orch.Create(context.Background(), regions(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.orch.Start(ctx, job.ID, regions(1))
	assert.ErrorIs(t, err, jobs.ErrExecutionStartFailed)

	stored, err := h.orch.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
}

func TestStartAsync(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())
	rs := regions(2)
	job, err := h.orch.Create(context.Background(), rs)
	require.NoError(t, err)

	h.orch.StartAsync(job.ID, rs)
	h.orch.Wait()

	stored, err := h.orch.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, stored.Status)
}

func TestStartAsync_FailureIsRecorded(t *testing.T) {
	h := newHarness(t, mock.NewFailingBackend(nil))
	rs := regions(1)
	job, err := h.orch.Create(context.Background(), rs)
	require.NoError(t, err)

	h.orch.StartAsync(job.ID, rs)
	h.orch.Wait()

	stored, err := h.orch.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "unavailable")
}

// --- GetWithSync ---

func TestGetWithSync_ThreeRegionScenario(t *testing.T) {
	h := newHarness(t, mock.NewSucceedingBackend("s3://b/r/out.aln"))

	rs := regions(3)
	job, err := h.orch.Create(context.Background(), rs)
	require.NoError(t, err)
	assert.Equal(t, 3, job.InputCount)
	assert.Equal(t, models.JobStatusPending, job.Status)

	_, err = h.orch.Start(context.Background(), job.ID, rs)
	require.NoError(t, err)

	first, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, first.Status)
	assert.Equal(t, models.JobStageDone, first.Stage)
	assert.Equal(t, "s3://b/r/out.aln", first.ResultLocation)
	require.NotNil(t, first.CompletedAt)
	assert.Equal(t, fixedNow, *first.CompletedAt)

	second, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.backend.DescribeCalls(), "terminal jobs are not described again")
}

func TestGetWithSync_FailedExecution(t *testing.T) {
	h := newHarness(t, mock.NewStatusBackend(models.ExecutionDescription{
		Status: models.ExecutionFailed,
		Error:  "PipelineError",
		Cause:  "Pipeline execution failed after retries",
	}))
	job := h.started(t, 1)

	got, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, models.JobStageError, got.Stage)
	assert.Equal(t, "PipelineError: Pipeline execution failed after retries", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.ResultLocation)
}

func TestGetWithSync_FailedMessageTruncated(t *testing.T) {
	h := newHarness(t, mock.NewStatusBackend(models.ExecutionDescription{
		Status: models.ExecutionFailed,
		Error:  "PipelineError",
		Cause:  strings.Repeat("x", 5000),
	}))
	job := h.started(t, 1)

	got, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, got.ErrorMessage, models.MaxErrorMessageLen)
	assert.True(t, strings.HasPrefix(got.ErrorMessage, "PipelineError: xxx"))
}

func TestGetWithSync_FailedMessageTruncatedByCharacter(t *testing.T) {
	h := newHarness(t, mock.NewStatusBackend(models.ExecutionDescription{
		Status: models.ExecutionFailed,
		Error:  "PipelineError",
		Cause:  strings.Repeat("é", 1200),
	}))
	job := h.started(t, 1)

	got, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaxErrorMessageLen, utf8.RuneCountInString(got.ErrorMessage))
	assert.True(t, strings.HasPrefix(got.ErrorMessage, "PipelineError: ééé"))
}

func TestGetWithSync_FailedDefaults(t *testing.T) {
	h := newHarness(t, mock.NewStatusBackend(models.ExecutionDescription{Status: models.ExecutionFailed}))
	job := h.started(t, 1)

	got, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Unknown error: No details available", got.ErrorMessage)
}

func TestGetWithSync_TimedOut(t *testing.T) {
	h := newHarness(t, mock.NewStatusBackend(models.ExecutionDescription{Status: models.ExecutionTimedOut}))
	job := h.started(t, 1)

	got, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "Execution timed out", got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
	completedAt := *got.CompletedAt

	again, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, completedAt, *again.CompletedAt)
}

func TestGetWithSync_Aborted(t *testing.T) {
	h := newHarness(t, mock.NewStatusBackend(models.ExecutionDescription{Status: models.ExecutionAborted}))
	job := h.started(t, 1)

	got, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "Execution was aborted", got.ErrorMessage)
}

func TestGetWithSync_RunningProgress(t *testing.T) {
	b := mock.NewMockBackend()
	desc := models.ExecutionDescription{Status: models.ExecutionRunning, Stage: models.JobStageSequenceRetrieval, SequencesProcessed: 2}
	b.DescribeFunc = func(context.Context, string) (models.ExecutionDescription, error) { return desc, nil }
	h := newHarness(t, b)
	job := h.started(t, 3)

	got, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, models.JobStageSequenceRetrieval, got.Stage)
	assert.Equal(t, 2, got.SequencesProcessed)
	assert.Nil(t, got.CompletedAt)

	desc = models.ExecutionDescription{Status: models.ExecutionRunning, Stage: models.JobStageAlignment, SequencesProcessed: 1}
	got, err = h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStageAlignment, got.Stage)
	assert.Equal(t, 2, got.SequencesProcessed, "progress never goes backwards")
}

func TestGetWithSync_SucceededWithoutLocationFails(t *testing.T) {
	h := newHarness(t, mock.NewStatusBackend(models.ExecutionDescription{
		Status: models.ExecutionSucceeded,
		Output: json.RawMessage(`{}`),
	}))
	job := h.started(t, 1)

	got, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, jobs.MsgMissingResult, got.ErrorMessage)
}

func TestGetWithSync_DescribeErrorReturnsStoredRecord(t *testing.T) {
	b := mock.NewMockBackend()
	h := newHarness(t, b)
	job := h.started(t, 1)
	b.DescribeFunc = func(context.Context, string) (models.ExecutionDescription, error) {
		return models.ExecutionDescription{}, errors.New("ThrottlingException")
	}

	got, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestGetWithSync_NotFound(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())
	_, err := h.orch.GetWithSync(context.Background(), uuid.New())
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestGetWithSync_PendingWithoutHandleIsNotDescribed(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())
	job, err := h.orch.Create(context.Background(), regions(1))
	require.NoError(t, err)

	got, err := h.orch.GetWithSync(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Zero(t, h.backend.DescribeCalls())
}

func TestGetWithSync_ConcurrentReadersConverge(t *testing.T) {
	b := mock.NewMockBackend()
	var calls int
	var mu sync.Mutex
	b.DescribeFunc = func(context.Context, string) (models.ExecutionDescription, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		out, _ := json.Marshal(models.ExecutionOutput{ResultS3URI: fmt.Sprintf("s3://b/r%d/out.aln", n)})
		return models.ExecutionDescription{Status: models.ExecutionSucceeded, Output: out}, nil
	}
	var tick int64
	var tickMu sync.Mutex
	clock := func() time.Time {
		tickMu.Lock()
		defer tickMu.Unlock()
		tick++
		return fixedNow.Add(time.Duration(tick) * time.Second)
	}
	h := newHarness(t, b, jobs.WithClock(clock))
	job := h.started(t, 1)

	const readers = 16
	results := make([]*models.JobRecord, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := h.orch.GetWithSync(context.Background(), job.ID)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	stored, err := h.orch.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CompletedAt)
	for _, got := range results {
		require.NotNil(t, got)
		assert.Equal(t, models.JobStatusCompleted, got.Status)
		assert.Equal(t, stored.ResultLocation, got.ResultLocation)
		require.NotNil(t, got.CompletedAt)
		assert.Equal(t, *stored.CompletedAt, *got.CompletedAt)
	}
}

// --- FetchResult ---

func TestFetchResult_Pending(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())
	job, err := h.orch.Create(context.Background(), regions(1))
	require.NoError(t, err)

	_, err = h.orch.FetchResult(context.Background(), job.ID, jobs.ArtifactAlignment)
	require.ErrorIs(t, err, jobs.ErrNotReady)
	var nr *jobs.NotReadyError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, models.JobStatusPending, nr.Status)
	assert.Equal(t, "Results not ready. Job status: pending", nr.Error())
}

func TestFetchResult_Running(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())
	job := h.started(t, 1)

	_, err := h.orch.FetchResult(context.Background(), job.ID, jobs.ArtifactSeqInfo)
	var nr *jobs.NotReadyError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, models.JobStatusRunning, nr.Status)
	assert.Equal(t, models.JobStageInitializing, nr.Stage)
}

func TestFetchResult_Failed(t *testing.T) {
	h := newHarness(t, mock.NewStatusBackend(models.ExecutionDescription{Status: models.ExecutionTimedOut}))
	job := h.started(t, 1)

	_, err := h.orch.FetchResult(context.Background(), job.ID, jobs.ArtifactAlignment)
	require.ErrorIs(t, err, jobs.ErrNotReady)
	var nr *jobs.NotReadyError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, models.JobStatusFailed, nr.Status)
	assert.Equal(t, "Execution timed out", nr.ErrorMessage)
	assert.Equal(t, "Job failed: Execution timed out", nr.Error())
}

func TestFetchResult_CompletedWithArtifacts(t *testing.T) {
	h := newHarness(t, mock.NewSucceedingBackend("s3://b/r/alignment-output.aln"))
	h.objects.data["s3://b/r/alignment-output.aln"] = []byte("CLUSTAL")
	h.objects.data["s3://b/r/aligned_seq_info.json"] = []byte(`{"gene0":{}}`)
	job := h.started(t, 1)

	aln, err := h.orch.FetchResult(context.Background(), job.ID, jobs.ArtifactAlignment)
	require.NoError(t, err)
	assert.Equal(t, "CLUSTAL", string(aln))

	info, err := h.orch.FetchResult(context.Background(), job.ID, jobs.ArtifactSeqInfo)
	require.NoError(t, err)
	assert.JSONEq(t, `{"gene0":{}}`, string(info))
}

func TestFetchResult_CompletedArtifactMissing(t *testing.T) {
	h := newHarness(t, mock.NewSucceedingBackend("s3://b/r/alignment-output.aln"))
	job := h.started(t, 1)

	_, err := h.orch.FetchResult(context.Background(), job.ID, jobs.ArtifactAlignment)
	require.ErrorIs(t, err, jobs.ErrIntegrity)
	assert.NotErrorIs(t, err, jobs.ErrNotReady)
	assert.NotErrorIs(t, err, jobs.ErrNotFound)
}

func TestFetchResult_JobNotFound(t *testing.T) {
	h := newHarness(t, mock.NewMockBackend())
	_, err := h.orch.FetchResult(context.Background(), uuid.New(), jobs.ArtifactAlignment)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestFetchResult_UsesCache(t *testing.T) {
	c := cache.NewMemoryCache()
	h := newHarness(t, mock.NewSucceedingBackend("s3://b/r/alignment-output.aln"), jobs.WithResultCache(c, time.Minute))
	h.objects.data["s3://b/r/alignment-output.aln"] = []byte("CLUSTAL")
	job := h.started(t, 1)

	for i := 0; i < 3; i++ {
		aln, err := h.orch.FetchResult(context.Background(), job.ID, jobs.ArtifactAlignment)
		require.NoError(t, err)
		assert.Equal(t, "CLUSTAL", string(aln))
	}
	assert.Equal(t, 1, h.objects.reads)

	cached, ok, err := c.Get(context.Background(), cache.ResultKey(job.ID, "alignment"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "CLUSTAL", string(cached))
}

// --- store failures ---

type unavailableStore struct {
	*store.MemoryStore
}

func (s unavailableStore) UpdateJob(context.Context, uuid.UUID, ...store.JobUpdateOption) (*models.JobRecord, error) {
	return nil, fmt.Errorf("%w: UpdateJob: connection refused", store.ErrUnavailable)
}

func TestGetWithSync_StoreUnavailableIsRaised(t *testing.T) {
	h := newHarness(t, mock.NewSucceedingBackend("s3://b/r/out.aln"))
	job := h.started(t, 1)

	broken := jobs.NewOrchestrator(unavailableStore{h.store}, h.backend, h.objects)
	_, err := broken.GetWithSync(context.Background(), job.ID)
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.NotErrorIs(t, err, jobs.ErrNotFound)
}
