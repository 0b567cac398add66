// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	jobs    JobManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, jobs JobManager) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		jobs:    jobs,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.jobs != nil {
		resp["activeJobs"] = h.jobs.ActiveCount()
	}
	return c.JSON(http.StatusOK, resp)
}
