package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/openfunnel/maestro/pkg/database"
	"github.com/openfunnel/maestro/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. Only the server's own components are
// checked; external tool services and the model endpoint are excluded so an
// upstream outage does not get the process restarted.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.db != nil {
		_, err := database.Health(reqCtx, s.db.DB())
		if err != nil {
			status = healthStatusUnhealthy
			checks["checkpoints"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["checkpoints"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
