// handlers_summarize.go - Summary generation handlers
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/doc-summarizer/backend/internal/summarize"
)

// SummaryHandlerImpl implements the SummaryHandler interface
type SummaryHandlerImpl struct {
	summarizer Summarizer
	jobs       JobManager
	logger     *zap.Logger
}

// NewSummaryHandler creates a new summary handler
func NewSummaryHandler(summarizer Summarizer, jobMgr JobManager, logger *zap.Logger) SummaryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryHandlerImpl{summarizer: summarizer, jobs: jobMgr, logger: logger}
}

type summarizeRequest struct {
	Text  string `json:"text"`
	JobID string `json:"jobId"`
}

type improveRequest struct {
	Content      string `json:"content"`
	Instructions string `json:"instructions"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

type exportRequest struct {
	Content string `json:"content"`
}

type markdownResponse struct {
	Markdown string `json:"markdown"`
}

// HandleSummarize summarizes raw text, or the text of a finished job
func (h *SummaryHandlerImpl) HandleSummarize(c echo.Context) error {
	var req summarizeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	text := req.Text
	if strings.TrimSpace(text) == "" && req.JobID != "" {
		if h.jobs == nil {
			return NewNotFoundError("job", req.JobID)
		}
		t, ok := h.jobs.GetText(req.JobID)
		if !ok {
			return NewNotFoundError("extraction result", req.JobID)
		}
		text = t
	}
	if strings.TrimSpace(text) == "" {
		return NewValidationError("text")
	}

	summary, err := h.summarizer.Summarize(c.Request().Context(), text)
	if err != nil {
		h.logger.Warn("summarization failed", zap.Error(err))
		return summarizerAPIError(err)
	}
	return c.JSON(http.StatusOK, summaryResponse{Summary: summary})
}

// HandleImprove revises an existing summary following user instructions
func (h *SummaryHandlerImpl) HandleImprove(c echo.Context) error {
	var req improveRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if strings.TrimSpace(req.Content) == "" {
		return NewValidationError("content")
	}

	summary, err := h.summarizer.Improve(c.Request().Context(), req.Content, req.Instructions)
	if err != nil {
		h.logger.Warn("summary revision failed", zap.Error(err))
		return summarizerAPIError(err)
	}
	return c.JSON(http.StatusOK, summaryResponse{Summary: summary})
}

// HandleExportMarkdown converts an HTML summary to Markdown
func (h *SummaryHandlerImpl) HandleExportMarkdown(c echo.Context) error {
	var req exportRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if strings.TrimSpace(req.Content) == "" {
		return NewValidationError("content")
	}

	md, err := summarize.ToMarkdown(req.Content)
	if err != nil {
		return NewInternalError("failed to export summary", err)
	}
	return c.JSON(http.StatusOK, markdownResponse{Markdown: md})
}
