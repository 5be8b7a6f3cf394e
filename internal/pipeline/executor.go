package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/pavi/pkg/models"
	"golang.org/x/sync/errgroup"
)

// TaskError is a task failure carrying an ASL error code. Errors of any other
// type are treated as States.TaskFailed.
type TaskError struct {
	Code  string
	Cause string
}

func (e *TaskError) Error() string {
	return e.Code + ": " + e.Cause
}

// ErrorCode returns the ASL error code for err.
func ErrorCode(err error) string {
	var te *TaskError
	if errors.As(err, &te) && te.Code != "" {
		return te.Code
	}
	return ErrorTaskFailed
}

// Task is one unit of work handed to a TaskRunner.
type Task struct {
	Step          string
	ExecutionName string
	JobQueueARN   string
	WorkPrefix    string
	ResultsPrefix string
	// Region is set for Map items; Regions carries the full input otherwise.
	Region  *models.SeqRegion
	Regions []models.SeqRegion
	Attempt int
}

// TaskRunner performs the compute behind Task and Map steps.
type TaskRunner interface {
	RunTask(ctx context.Context, task Task) error
}

// TaskRunnerFunc adapts a function to TaskRunner.
type TaskRunnerFunc func(ctx context.Context, task Task) error

func (f TaskRunnerFunc) RunTask(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// Progress receives stage changes and the running count of retrieved
// sequences. It may be called from several goroutines at once.
type Progress func(stage models.JobStage, sequencesProcessed int)

// Result is the terminal outcome of one execution.
type Result struct {
	Status             models.ExecutionStatus
	Output             json.RawMessage
	Error              string
	Cause              string
	FailedStep         string
	SequencesProcessed int
}

// Executor runs a Definition in-process.
type Executor struct {
	def           Definition
	layout        Layout
	runner        TaskRunner
	intervalScale float64
	logger        *slog.Logger
}

type ExecutorOption func(*Executor)

// WithIntervalScale multiplies every retry interval; 0 retries immediately.
func WithIntervalScale(scale float64) ExecutorOption {
	return func(e *Executor) {
		e.intervalScale = scale
	}
}

func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

func NewExecutor(def Definition, layout Layout, runner TaskRunner, opts ...ExecutorOption) (*Executor, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	if runner == nil {
		return nil, fmt.Errorf("task runner is required")
	}
	e := &Executor{
		def:           def,
		layout:        layout,
		runner:        runner,
		intervalScale: 1,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Layout returns the prefix layout executions are written under.
func (e *Executor) Layout() Layout {
	return e.layout
}

// Run walks the graph from its first step until a terminal. The definition's
// timeout yields TIMED_OUT; cancellation of ctx yields ABORTED.
func (e *Executor) Run(ctx context.Context, executionName string, input models.ExecutionInput, progress Progress) Result {
	if progress == nil {
		progress = func(models.JobStage, int) {}
	}
	runCtx, cancel := context.WithTimeout(ctx, e.def.Timeout)
	defer cancel()

	task := Task{
		ExecutionName: executionName,
		JobQueueARN:   input.JobQueueARN,
		WorkPrefix:    e.layout.WorkPrefix(executionName),
		ResultsPrefix: e.layout.ResultsPrefix(executionName),
		Regions:       input.SeqRegions,
	}
	var processed atomic.Int64
	var failed Result

	name := e.def.Steps[0].Name
	for {
		if r, done := e.interrupted(ctx, runCtx); done {
			r.SequencesProcessed = int(processed.Load())
			return r
		}

		step, ok := e.def.Step(name)
		if !ok {
			return Result{Status: models.ExecutionFailed, Error: ErrorPipeline, Cause: fmt.Sprintf("unknown step %q", name)}
		}
		progress(step.Stage, int(processed.Load()))

		var err error
		switch step.Kind {
		case KindSucceed:
			out, _ := json.Marshal(models.ExecutionOutput{ResultS3URI: e.layout.ResultURI(executionName)})
			return Result{Status: models.ExecutionSucceeded, Output: out, SequencesProcessed: int(processed.Load())}
		case KindFail:
			failed.Status = models.ExecutionFailed
			failed.Error = e.def.FailureError
			if failed.Cause == "" {
				failed.Cause = e.def.FailureCause
			}
			failed.SequencesProcessed = int(processed.Load())
			return failed
		case KindPass:
		case KindTask:
			t := task
			t.Step = step.Name
			err = e.runWithRetry(runCtx, step, t)
		case KindMap:
			err = e.runMap(runCtx, step, task, &processed, progress)
		}

		if err != nil {
			if r, done := e.interrupted(ctx, runCtx); done {
				r.SequencesProcessed = int(processed.Load())
				return r
			}
			e.logger.Warn("pipeline step failed",
				"execution", executionName, "step", step.Name, "error", err)
			failed.FailedStep = step.Name
			failed.Cause = fmt.Sprintf("%s: %s: %v", e.def.FailureCause, step.Name, err)
			name = e.def.failStep()
			continue
		}
		name = step.Next
	}
}

func (e *Executor) interrupted(parent, run context.Context) (Result, bool) {
	if parent.Err() != nil {
		return Result{Status: models.ExecutionAborted}, true
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) {
		return Result{
			Status: models.ExecutionTimedOut,
			Error:  ErrorTimeout,
			Cause:  fmt.Sprintf("execution exceeded %s", e.def.Timeout),
		}, true
	}
	return Result{}, false
}

func (e *Executor) runMap(ctx context.Context, step Step, base Task, processed *atomic.Int64, progress Progress) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(step.MaxConcurrency)

	for i := range base.Regions {
		t := base
		t.Step = step.Name
		t.Region = &base.Regions[i]
		g.Go(func() error {
			if err := e.runWithRetry(gctx, step, t); err != nil {
				return fmt.Errorf("%s: %w", t.Region.UniqueEntryID, err)
			}
			progress(step.Stage, int(processed.Add(1)))
			return nil
		})
	}
	return g.Wait()
}

func (e *Executor) runWithRetry(ctx context.Context, step Step, task Task) error {
	policy := RetryPolicy{}
	if step.Retry != nil {
		policy = *step.Retry
	}

	op := func() error {
		task.Attempt++
		err := e.runner.RunTask(ctx, task)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !policy.Matches(ErrorCode(err)) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(float64(policy.Interval) * e.intervalScale)
	b.Multiplier = policy.BackoffRate
	b.RandomizationFactor = 0
	b.MaxInterval = e.def.Timeout
	b.MaxElapsedTime = 0
	b.Reset()

	notify := func(err error, wait time.Duration) {
		e.logger.Info("retrying pipeline task",
			"execution", task.ExecutionName, "step", step.Name, "attempt", task.Attempt,
			"wait", wait, "error", err)
	}

	return backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.Retries())), ctx), notify)
}
