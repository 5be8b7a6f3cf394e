// Package local runs the pipeline in-process with fixture tasks. It is meant
// for development and tests: every execution completes inside Start and
// writes placeholder artifacts under the local results directory.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kiranshivaraju/pavi/internal/objectstore"
	"github.com/kiranshivaraju/pavi/internal/pipeline"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

// Name identifies this backend.
const Name = "local"

const handlePrefix = "local:"

// Backend implements models.ExecutionBackend on pipeline.Executor.
type Backend struct {
	executor *pipeline.Executor
	objects  objectstore.Reader
	logger   *slog.Logger

	mu         sync.Mutex
	executions map[string]models.ExecutionDescription
}

// New returns a backend writing results below resultsDir through objects.
func New(def pipeline.Definition, resultsDir string, objects objectstore.Store, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := filepath.Abs(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("resolving results directory %q: %w", resultsDir, err)
	}
	layout := pipeline.Layout{Root: "file://" + filepath.ToSlash(root)}

	executor, err := pipeline.NewExecutor(def, layout, NewFixtureRunner(objects),
		pipeline.WithIntervalScale(0), pipeline.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &Backend{
		executor:   executor,
		objects:    objects,
		logger:     logger,
		executions: make(map[string]models.ExecutionDescription),
	}, nil
}

func (b *Backend) Name() string { return Name }

// Owns reports whether handle was issued by a local backend.
func (b *Backend) Owns(handle string) bool {
	return strings.HasPrefix(handle, handlePrefix)
}

// Start runs the whole pipeline before returning. Starting an execution name
// that already ran, or is running, returns the same handle without running
// it again.
func (b *Backend) Start(ctx context.Context, req models.StartRequest) (string, error) {
	handle := handlePrefix + req.ExecutionName

	// Reserve the handle before running so a concurrent Start of the same
	// name returns it instead of running the pipeline a second time.
	b.mu.Lock()
	if _, seen := b.executions[handle]; seen {
		b.mu.Unlock()
		return handle, nil
	}
	b.executions[handle] = models.ExecutionDescription{
		Status: models.ExecutionRunning,
		Stage:  models.JobStageInitializing,
	}
	b.mu.Unlock()

	res := b.executor.Run(ctx, req.ExecutionName, req.Input, nil)
	desc := models.ExecutionDescription{
		Status:             res.Status,
		Output:             res.Output,
		Error:              res.Error,
		Cause:              res.Cause,
		SequencesProcessed: res.SequencesProcessed,
	}
	if res.Status == models.ExecutionSucceeded {
		desc.Stage = models.JobStageDone
	}

	b.mu.Lock()
	b.executions[handle] = desc
	b.mu.Unlock()

	b.logger.Info("local execution finished",
		"execution", req.ExecutionName, "job_id", req.Input.JobID, "status", res.Status)
	return handle, nil
}

// Describe returns the recorded outcome. Executions from a previous process
// are recovered from the results directory.
func (b *Backend) Describe(ctx context.Context, handle string) (models.ExecutionDescription, error) {
	if !b.Owns(handle) {
		return models.ExecutionDescription{}, fmt.Errorf("handle %q is not a local execution", handle)
	}

	b.mu.Lock()
	desc, ok := b.executions[handle]
	b.mu.Unlock()
	if ok {
		return desc, nil
	}

	name := strings.TrimPrefix(handle, handlePrefix)
	uri := b.executor.Layout().ResultURI(name)
	if _, err := b.objects.Get(ctx, uri); err != nil {
		if objectstore.IsNotFound(err) {
			return models.ExecutionDescription{
				Status: models.ExecutionFailed,
				Error:  "ExecutionDoesNotExist",
				Cause:  fmt.Sprintf("no local results for %s", name),
			}, nil
		}
		return models.ExecutionDescription{}, err
	}
	out, err := json.Marshal(models.ExecutionOutput{ResultS3URI: uri})
	if err != nil {
		return models.ExecutionDescription{}, err
	}
	return models.ExecutionDescription{Status: models.ExecutionSucceeded, Output: out, Stage: models.JobStageDone}, nil
}

var _ models.ExecutionBackend = (*Backend)(nil)
