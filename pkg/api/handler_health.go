package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/ceci-ai/botchain/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one dependency's status within the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string                 `json:"status"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Version       string                 `json:"version"`
	Checks        map[string]HealthCheck `json:"checks,omitempty"`
}

// healthHandler handles GET /health. The conversation store degrades
// rather than fails (the planner falls back to memory), so a store outage
// reports degraded; only a dead corpus database is unhealthy.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.store.Ping(reqCtx); err != nil {
		status = healthStatusDegraded
		checks["conversation_store"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
	} else {
		checks["conversation_store"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.corpus != nil {
		if err := s.corpus.Ping(reqCtx); err != nil {
			status = healthStatusUnhealthy
			checks["corpus_db"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["corpus_db"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Version:       version.Full(),
		Checks:        checks,
	})
}
