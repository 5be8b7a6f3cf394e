package jobs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/internal/backend/mock"
	"github.com/kiranshivaraju/pavi/internal/jobs"
	"github.com/kiranshivaraju/pavi/internal/store"
	"github.com/kiranshivaraju/pavi/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningJob(t *testing.T, st store.Store) *models.JobRecord {
	t.Helper()
	job := models.NewJobRecord(1, fixedNow, 0)
	require.NoError(t, st.PutJob(context.Background(), job))
	updated, err := st.UpdateJob(context.Background(), job.ID,
		store.WithStatus(models.JobStatusRunning), store.WithExecutionHandle("mock:"+job.Name()))
	require.NoError(t, err)
	return updated
}

func TestReconcile_Absent(t *testing.T) {
	r := jobs.NewReconciler(store.NewMemoryStore(), mock.NewMockBackend(), nil, nil)
	_, err := r.Reconcile(context.Background(), uuid.New())
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestReconcile_TerminalIsNoOp(t *testing.T) {
	st := store.NewMemoryStore()
	b := mock.NewSucceedingBackend("s3://b/r/out.aln")
	r := jobs.NewReconciler(st, b, func() time.Time { return fixedNow }, nil)
	job := runningJob(t, st)

	first, err := r.Reconcile(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, first.Status)

	second, err := r.Reconcile(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, b.DescribeCalls())
}

func TestReconcile_DescribeErrorIsUnavailable(t *testing.T) {
	st := store.NewMemoryStore()
	cause := errors.New("ThrottlingException")
	r := jobs.NewReconciler(st, mock.NewFailingBackend(cause), nil, nil)
	job := runningJob(t, st)

	got, err := r.Reconcile(context.Background(), job.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, jobs.ErrReconciliationUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, job, got)

	stored, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, stored)
}

func TestReconcile_RunningWithoutProgressSkipsWrite(t *testing.T) {
	st := &countingStore{MemoryStore: store.NewMemoryStore()}
	r := jobs.NewReconciler(st, mock.NewMockBackend(), nil, nil)
	job := runningJob(t, st)
	st.updates.Store(0)

	got, err := r.Reconcile(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Zero(t, st.updates.Load())
}

func TestReconcile_ConcurrentCallsShareDescribe(t *testing.T) {
	st := store.NewMemoryStore()
	release := make(chan struct{})
	var calls atomic.Int64
	b := mock.NewMockBackend()
	b.DescribeFunc = func(context.Context, string) (models.ExecutionDescription, error) {
		calls.Add(1)
		<-release
		return models.ExecutionDescription{Status: models.ExecutionRunning, Stage: models.JobStageAlignment}, nil
	}
	r := jobs.NewReconciler(st, b, nil, nil)
	job := runningJob(t, st)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Reconcile(context.Background(), job.ID)
			if assert.NoError(t, err) {
				assert.Equal(t, models.JobStageAlignment, got.Stage)
			}
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Less(t, calls.Load(), int64(10))
}

type countingStore struct {
	*store.MemoryStore
	updates atomic.Int64
}

func (s *countingStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...store.JobUpdateOption) (*models.JobRecord, error) {
	s.updates.Add(1)
	return s.MemoryStore.UpdateJob(ctx, id, opts...)
}
