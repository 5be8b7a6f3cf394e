package mock

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/kiranshivaraju/pavi/internal/backend"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

const handlePrefix = "mock:"

// MockBackend satisfies models.ExecutionBackend for testing. Calls are
// recorded so tests can assert how often the backend was reached.
type MockBackend struct {
	Name_        string
	StartFunc    func(ctx context.Context, req models.StartRequest) (string, error)
	DescribeFunc func(ctx context.Context, handle string) (models.ExecutionDescription, error)

	mu        sync.Mutex
	starts    []models.StartRequest
	describes []string
}

func (m *MockBackend) Name() string { return m.Name_ }

func (m *MockBackend) Start(ctx context.Context, req models.StartRequest) (string, error) {
	m.mu.Lock()
	m.starts = append(m.starts, req)
	m.mu.Unlock()
	if m.StartFunc != nil {
		return m.StartFunc(ctx, req)
	}
	return handlePrefix + req.ExecutionName, nil
}

func (m *MockBackend) Describe(ctx context.Context, handle string) (models.ExecutionDescription, error) {
	m.mu.Lock()
	m.describes = append(m.describes, handle)
	m.mu.Unlock()
	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, handle)
	}
	return models.ExecutionDescription{Status: models.ExecutionRunning}, nil
}

// Owns reports whether handle was issued by the default StartFunc.
func (m *MockBackend) Owns(handle string) bool {
	return strings.HasPrefix(handle, handlePrefix)
}

// Starts returns the recorded start requests.
func (m *MockBackend) Starts() []models.StartRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StartRequest(nil), m.starts...)
}

// DescribeCalls returns how many times Describe was called.
func (m *MockBackend) DescribeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.describes)
}

// NewMockBackend returns a MockBackend whose executions are always running.
func NewMockBackend() *MockBackend {
	return &MockBackend{Name_: "mock"}
}

// NewSucceedingBackend returns a MockBackend whose executions have succeeded
// with result_s3_uri set to resultURI.
func NewSucceedingBackend(resultURI string) *MockBackend {
	out, _ := json.Marshal(models.ExecutionOutput{ResultS3URI: resultURI})
	return &MockBackend{
		Name_: "mock-succeeding",
		DescribeFunc: func(_ context.Context, _ string) (models.ExecutionDescription, error) {
			return models.ExecutionDescription{
				Status: models.ExecutionSucceeded,
				Output: out,
				Stage:  models.JobStageDone,
			}, nil
		},
	}
}

// NewStatusBackend returns a MockBackend that always describes desc.
func NewStatusBackend(desc models.ExecutionDescription) *MockBackend {
	return &MockBackend{
		Name_: "mock-status",
		DescribeFunc: func(_ context.Context, _ string) (models.ExecutionDescription, error) {
			return desc, nil
		},
	}
}

// NewFailingBackend returns a MockBackend whose calls all fail with err, or
// backend.ErrBackendUnavailable when err is nil.
func NewFailingBackend(err error) *MockBackend {
	if err == nil {
		err = backend.ErrBackendUnavailable
	}
	return &MockBackend{
		Name_: "mock-failing",
		StartFunc: func(_ context.Context, _ models.StartRequest) (string, error) {
			return "", err
		},
		DescribeFunc: func(_ context.Context, _ string) (models.ExecutionDescription, error) {
			return models.ExecutionDescription{}, err
		},
	}
}

// NewTimeoutBackend returns a MockBackend whose calls block until the context
// is cancelled.
func NewTimeoutBackend() *MockBackend {
	return &MockBackend{
		Name_: "mock-timeout",
		StartFunc: func(ctx context.Context, _ models.StartRequest) (string, error) {
			<-ctx.Done()
			return "", backend.ErrStartTimeout
		},
		DescribeFunc: func(ctx context.Context, _ string) (models.ExecutionDescription, error) {
			<-ctx.Done()
			return models.ExecutionDescription{}, ctx.Err()
		},
	}
}

// Compile-time check that MockBackend implements the backend interfaces.
var (
	_ models.ExecutionBackend = (*MockBackend)(nil)
	_ backend.Routable        = (*MockBackend)(nil)
)
