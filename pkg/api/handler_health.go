package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// healthHandler implements GET /health (§6): database and engine queue
// status plus process uptime. Unauthenticated — used by load balancers
// and orchestration platforms, which don't carry a bearer token.
func (s *Server) healthHandler(c *echo.Context) error {
	deps := make(map[string]string)
	status := http.StatusOK

	if dbStatus, err := s.dbClient.Health(c.Request().Context()); err != nil || dbStatus.Status != "pass" {
		deps["database"] = "fail"
		status = http.StatusServiceUnavailable
	} else {
		deps["database"] = "pass"
	}

	poolHealth := s.engine.Health(c.Request().Context())
	if !poolHealth.DatabaseOK {
		deps["engine"] = "fail"
		status = http.StatusServiceUnavailable
	} else {
		deps["engine"] = "pass"
	}

	overall := "pass"
	if status != http.StatusOK {
		overall = "fail"
	}

	return c.JSON(status, healthResponse{
		Status:       overall,
		UptimeSec:    time.Since(s.startedAt).Seconds(),
		Dependencies: deps,
		Queue: queueBacklog{
			PendingExecutions: poolHealth.PendingCount,
			RunningExecutions: poolHealth.RunningCount,
		},
	})
}
