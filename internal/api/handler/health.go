package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kiranshivaraju/pavi/internal/api/response"
	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is anything the health check can probe: the job store, the cache,
// the Loki client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthInfo is the static part of the health response.
type HealthInfo struct {
	Environment       string
	ExecutionMode     string
	RolloutEnabled    bool
	RolloutPercentage int
}

type healthResponse struct {
	Status        string            `json:"status"`
	ExecutionMode string            `json:"execution_mode"`
	Environment   string            `json:"environment"`
	Rollout       *rolloutStatus    `json:"rollout,omitempty"`
	Components    map[string]string `json:"components"`
}

type rolloutStatus struct {
	Enabled    bool `json:"enabled"`
	Percentage int  `json:"percentage"`
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/health. All
// components are probed concurrently; any failure turns the response into
// a 503 with status "degraded".
func NewHealthHandler(info HealthInfo, components map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		var (
			mu       sync.Mutex
			statuses = make(map[string]string, len(components))
			healthy  = true
			g        errgroup.Group
		)
		for name, c := range components {
			g.Go(func() error {
				err := c.Ping(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					slog.Warn("health check failed", "component", name, "error", err)
					statuses[name] = "unhealthy"
					healthy = false
					return nil
				}
				statuses[name] = "healthy"
				return nil
			})
		}
		_ = g.Wait()

		resp := healthResponse{
			Status:        "up",
			ExecutionMode: info.ExecutionMode,
			Environment:   info.Environment,
			Components:    statuses,
		}
		if info.RolloutEnabled {
			resp.Rollout = &rolloutStatus{Enabled: true, Percentage: info.RolloutPercentage}
		}

		if !healthy {
			resp.Status = "degraded"
			response.Status(w, http.StatusServiceUnavailable, resp)
			return
		}
		response.JSON(w, resp)
	}
}
