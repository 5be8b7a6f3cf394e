// Package backend constructs the execution backend selected by configuration.
package backend

import (
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/pavi/internal/backend/local"
	"github.com/kiranshivaraju/pavi/internal/backend/stepfunctions"
	"github.com/kiranshivaraju/pavi/internal/config"
	"github.com/kiranshivaraju/pavi/internal/objectstore"
	"github.com/kiranshivaraju/pavi/internal/pipeline"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

// Dependencies are the clients a backend may need. StepFunctions is only
// required for the stepfunctions backend.
type Dependencies struct {
	StepFunctions stepfunctions.API
	Objects       objectstore.Store
	Definition    pipeline.Definition
	Logger        *slog.Logger
}

// NewBackend constructs the backend named by cfg.Backend. With rollout
// enabled, the stepfunctions backend only receives the configured share of
// jobs and the rest run locally.
// Called once at server startup.
func NewBackend(cfg config.PipelineConfig, deps Dependencies) (models.ExecutionBackend, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	switch cfg.Backend {
	case local.Name:
		return newLocal(cfg, deps)
	case stepfunctions.Name:
		if deps.StepFunctions == nil {
			return nil, fmt.Errorf("stepfunctions backend requires a Step Functions client")
		}
		sfnBackend := stepfunctions.New(deps.StepFunctions, cfg.StateMachineARN, deps.Definition,
			stepfunctions.WithDescribeRate(cfg.DescribePerSecond),
			stepfunctions.WithLogger(deps.Logger))
		if !cfg.RolloutEnabled {
			return sfnBackend, nil
		}
		fallback, err := newLocal(cfg, deps)
		if err != nil {
			return nil, err
		}
		return NewRollout(sfnBackend, fallback, cfg.RolloutPercentage), nil
	default:
		return nil, fmt.Errorf("%w %q: must be one of local, stepfunctions", ErrUnknownBackend, cfg.Backend)
	}
}

func newLocal(cfg config.PipelineConfig, deps Dependencies) (*local.Backend, error) {
	if deps.Objects == nil {
		deps.Objects = objectstore.NewFileStore()
	}
	return local.New(deps.Definition, cfg.LocalResultsDir, deps.Objects, deps.Logger)
}
