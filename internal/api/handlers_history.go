// handlers_history.go - Extraction history handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const maxHistoryLimit = 500

// HistoryHandlerImpl implements the HistoryHandler interface
type HistoryHandlerImpl struct {
	store HistoryStore
}

// NewHistoryHandler creates a new history handler. A nil store answers 503.
func NewHistoryHandler(store HistoryStore) HistoryHandler {
	return &HistoryHandlerImpl{store: store}
}

// HandleHistory returns recent extraction runs
func (h *HistoryHandlerImpl) HandleHistory(c echo.Context) error {
	if h.store == nil {
		return NewServiceUnavailableError("extraction history is disabled")
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.store.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read history", err)
	}
	return c.JSON(http.StatusOK, records)
}

// HandleHistoryStats returns per-decoder aggregates
func (h *HistoryHandlerImpl) HandleHistoryStats(c echo.Context) error {
	if h.store == nil {
		return NewServiceUnavailableError("extraction history is disabled")
	}

	stats, err := h.store.Stats(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to read history stats", err)
	}
	return c.JSON(http.StatusOK, stats)
}
