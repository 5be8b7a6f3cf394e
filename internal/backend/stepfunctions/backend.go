// Package stepfunctions runs pipeline executions on AWS Step Functions.
package stepfunctions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/aws/smithy-go"
	"github.com/kiranshivaraju/pavi/internal/pipeline"
	"github.com/kiranshivaraju/pavi/pkg/models"
	"golang.org/x/time/rate"
)

// Name identifies this backend.
const Name = "stepfunctions"

// historyPageSize bounds the reverse history read used to find the current state.
const historyPageSize = 25

var (
	ErrExecutionExists   = errors.New("execution already exists with different input")
	ErrExecutionNotFound = errors.New("execution does not exist")
	ErrThrottled         = errors.New("step functions throttled the request")
	ErrUnavailable       = errors.New("step functions unavailable")
	ErrInvalidRequest    = errors.New("step functions rejected the request")
)

// Error wraps a failed Step Functions call.
type Error struct {
	Op   string
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stepfunctions %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("stepfunctions %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// API is the subset of the Step Functions client the backend uses.
type API interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	DescribeExecution(ctx context.Context, in *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
	GetExecutionHistory(ctx context.Context, in *sfn.GetExecutionHistoryInput, optFns ...func(*sfn.Options)) (*sfn.GetExecutionHistoryOutput, error)
}

// NewClient builds a Step Functions client. A non-empty endpoint targets a
// local emulator.
func NewClient(awsCfg aws.Config, endpoint string) *sfn.Client {
	return sfn.NewFromConfig(awsCfg, func(o *sfn.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// Backend implements models.ExecutionBackend on a Step Functions state machine.
type Backend struct {
	client          API
	stateMachineARN string
	def             pipeline.Definition
	limiter         *rate.Limiter
	logger          *slog.Logger
}

type Option func(*Backend)

// WithDescribeRate limits DescribeExecution calls to perSecond. Zero or less
// disables the limit.
func WithDescribeRate(perSecond float64) Option {
	return func(b *Backend) {
		if perSecond <= 0 {
			b.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New returns a backend that starts executions of stateMachineARN. def is used
// to translate state names from the execution history into job stages.
func New(client API, stateMachineARN string, def pipeline.Definition, opts ...Option) *Backend {
	b := &Backend{
		client:          client,
		stateMachineARN: stateMachineARN,
		def:             def,
		limiter:         rate.NewLimiter(rate.Inf, 0),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return Name }

// Owns reports whether handle is a Step Functions execution ARN.
func (b *Backend) Owns(handle string) bool {
	return strings.HasPrefix(handle, "arn:") && strings.Contains(handle, ":execution:")
}

// Start submits an execution. Repeating a start with the same name and input
// returns the existing execution's ARN.
func (b *Backend) Start(ctx context.Context, req models.StartRequest) (string, error) {
	input, err := json.Marshal(req.Input)
	if err != nil {
		return "", fmt.Errorf("encoding execution input: %w", err)
	}

	out, err := b.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(b.stateMachineARN),
		Name:            aws.String(req.ExecutionName),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		return "", wrapError("StartExecution", err)
	}

	arn := aws.ToString(out.ExecutionArn)
	b.logger.Info("started step functions execution",
		"execution", req.ExecutionName, "execution_arn", arn, "job_id", req.Input.JobID)
	return arn, nil
}

// Describe reads the execution state. For running executions the current
// stage is derived from the most recent state entered in the history.
func (b *Backend) Describe(ctx context.Context, handle string) (models.ExecutionDescription, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return models.ExecutionDescription{}, err
	}

	out, err := b.client.DescribeExecution(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(handle),
	})
	if err != nil {
		return models.ExecutionDescription{}, wrapError("DescribeExecution", err)
	}

	desc := models.ExecutionDescription{
		Status: mapStatus(out.Status),
		Error:  aws.ToString(out.Error),
		Cause:  aws.ToString(out.Cause),
	}
	if s := aws.ToString(out.Output); s != "" {
		desc.Output = json.RawMessage(s)
	}

	if desc.Status == models.ExecutionRunning {
		stage, err := b.currentStage(ctx, handle)
		if err != nil {
			b.logger.Warn("reading execution history failed", "execution_arn", handle, "error", err)
		} else {
			desc.Stage = stage
		}
	}
	return desc, nil
}

func (b *Backend) currentStage(ctx context.Context, handle string) (models.JobStage, error) {
	out, err := b.client.GetExecutionHistory(ctx, &sfn.GetExecutionHistoryInput{
		ExecutionArn: aws.String(handle),
		ReverseOrder: true,
		MaxResults:   historyPageSize,
	})
	if err != nil {
		return "", wrapError("GetExecutionHistory", err)
	}
	for _, ev := range out.Events {
		if ev.StateEnteredEventDetails == nil {
			continue
		}
		if stage, ok := b.def.StageOf(aws.ToString(ev.StateEnteredEventDetails.Name)); ok {
			return stage, nil
		}
	}
	return "", nil
}

func mapStatus(s types.ExecutionStatus) models.ExecutionStatus {
	switch s {
	case types.ExecutionStatusSucceeded:
		return models.ExecutionSucceeded
	case types.ExecutionStatusFailed:
		return models.ExecutionFailed
	case types.ExecutionStatusTimedOut:
		return models.ExecutionTimedOut
	case types.ExecutionStatusAborted:
		return models.ExecutionAborted
	default:
		// RUNNING and PENDING_REDRIVE
		return models.ExecutionRunning
	}
}

func wrapError(op string, err error) error {
	wrapped := &Error{Op: op, Err: err}

	var exists *types.ExecutionAlreadyExists
	var missing *types.ExecutionDoesNotExist
	var noMachine *types.StateMachineDoesNotExist
	switch {
	case errors.As(err, &exists):
		wrapped.Code, wrapped.Err = exists.ErrorCode(), fmt.Errorf("%w: %s", ErrExecutionExists, exists.ErrorMessage())
		return wrapped
	case errors.As(err, &missing):
		wrapped.Code, wrapped.Err = missing.ErrorCode(), ErrExecutionNotFound
		return wrapped
	case errors.As(err, &noMachine):
		wrapped.Code, wrapped.Err = noMachine.ErrorCode(), fmt.Errorf("%w: %s", ErrInvalidRequest, noMachine.ErrorMessage())
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		wrapped.Code = apiErr.ErrorCode()
		switch wrapped.Code {
		case "ThrottlingException", "TooManyRequestsException", "ExecutionLimitExceeded":
			wrapped.Err = fmt.Errorf("%w: %s", ErrThrottled, apiErr.ErrorMessage())
		case "InvalidArn", "InvalidName", "InvalidExecutionInput", "ValidationException":
			wrapped.Err = fmt.Errorf("%w: %s", ErrInvalidRequest, apiErr.ErrorMessage())
		case "ServiceUnavailable", "InternalServerError", "InternalFailure":
			wrapped.Err = fmt.Errorf("%w: %s", ErrUnavailable, apiErr.ErrorMessage())
		}
	}
	return wrapped
}

var _ models.ExecutionBackend = (*Backend)(nil)
