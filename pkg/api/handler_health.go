package api

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/artificer-dev/artificer/pkg/database"
	"github.com/artificer-dev/artificer/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Unhealthy only when the database or worker pool is down; a missing
// container substrate or partially loaded registry degrades the status but
// must not trigger an orchestrator restart.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	degrade := func() {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
	}

	_, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	resp := &HealthResponse{Version: version.GitCommit, Checks: checks}

	if s.workerPool != nil {
		poolHealth := s.workerPool.Health()
		resp.WorkerPool = poolHealth
		if poolHealth != nil && !poolHealth.IsHealthy {
			degrade()
			msg := healthStatusUnhealthy
			if poolHealth.DBError != "" {
				msg = poolHealth.DBError
			}
			checks["worker_pool"] = HealthCheck{Status: healthStatusDegraded, Message: msg}
		} else {
			checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.registry != nil {
		availability := s.registry.Availability()
		resp.Registry = &availability
		if availability.UnavailableTools > 0 {
			degrade()
			checks["registry"] = HealthCheck{
				Status: healthStatusDegraded,
				Message: fmt.Sprintf("%d of %d tools failed to load",
					availability.UnavailableTools, availability.TotalTools),
			}
		} else {
			checks["registry"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.sandbox != nil {
		if _, err := exec.LookPath("docker"); err != nil {
			degrade()
			checks["sandbox"] = HealthCheck{
				Status:  healthStatusDegraded,
				Message: "container runtime unavailable, direct execution fallback in use",
			}
		} else {
			checks["sandbox"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	resp.Status = status
	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}
