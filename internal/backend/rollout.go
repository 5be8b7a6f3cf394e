package backend

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

// Routable is a backend that can recognise the handles it issued.
type Routable interface {
	models.ExecutionBackend
	Owns(handle string) bool
}

// Rollout sends a stable percentage of jobs to primary and the rest to
// fallback. Describe follows the handle, so a job stays on the backend that
// started it even if the percentage changes.
type Rollout struct {
	primary    Routable
	fallback   Routable
	percentage int
}

func NewRollout(primary, fallback Routable, percentage int) *Rollout {
	return &Rollout{primary: primary, fallback: fallback, percentage: percentage}
}

// Bucket places jobID in one of 100 buckets.
func Bucket(jobID string) int {
	return int(xxhash.Sum64String(jobID) % 100)
}

// UsesPrimary reports whether jobID is routed to the primary backend.
func (r *Rollout) UsesPrimary(jobID string) bool {
	switch {
	case r.percentage >= 100:
		return true
	case r.percentage <= 0:
		return false
	default:
		return Bucket(jobID) < r.percentage
	}
}

func (r *Rollout) Name() string {
	return fmt.Sprintf("rollout(%s %d%%, %s)", r.primary.Name(), r.percentage, r.fallback.Name())
}

func (r *Rollout) Start(ctx context.Context, req models.StartRequest) (string, error) {
	if r.UsesPrimary(req.Input.JobID) {
		return r.primary.Start(ctx, req)
	}
	return r.fallback.Start(ctx, req)
}

func (r *Rollout) Describe(ctx context.Context, handle string) (models.ExecutionDescription, error) {
	switch {
	case r.primary.Owns(handle):
		return r.primary.Describe(ctx, handle)
	case r.fallback.Owns(handle):
		return r.fallback.Describe(ctx, handle)
	default:
		return models.ExecutionDescription{}, fmt.Errorf("%w: %q", ErrUnknownHandle, handle)
	}
}

func (r *Rollout) Owns(handle string) bool {
	return r.primary.Owns(handle) || r.fallback.Owns(handle)
}

var _ Routable = (*Rollout)(nil)
