// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/doc-summarizer/backend/internal/extract"
	"github.com/doc-summarizer/backend/internal/history"
	"github.com/doc-summarizer/backend/internal/jobs"
	"github.com/doc-summarizer/backend/internal/ocr"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// FileHandler handles file upload operations
type FileHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleRenameFile(c echo.Context) error
}

// ExtractHandler handles text extraction jobs
type ExtractHandler interface {
	HandleStartExtract(c echo.Context) error
	HandleExtractDirect(c echo.Context) error
	HandleExtractStatus(c echo.Context) error
	HandleExtractProgressStream(c echo.Context) error
	HandleExtractResult(c echo.Context) error
	HandleExtractResultMsgpack(c echo.Context) error
}

// SummaryHandler handles summarization requests
type SummaryHandler interface {
	HandleSummarize(c echo.Context) error
	HandleImprove(c echo.Context) error
	HandleExportMarkdown(c echo.Context) error
}

// HistoryHandler handles extraction history queries
type HistoryHandler interface {
	HandleHistory(c echo.Context) error
	HandleHistoryStats(c echo.Context) error
}

// JobManager defines the interface for extraction job management
// This allows mocking in tests
type JobManager interface {
	StartJob(fileID string, languages []string) (*jobs.Job, error)
	GetJob(id string) (*jobs.Job, bool)
	GetText(id string) (string, bool)
	ActiveCount() int
}

// Extractor runs one extraction synchronously.
type Extractor interface {
	ExtractDetailed(ctx context.Context, file extract.File, sink ocr.Sink) (*extract.Result, error)
}

// Summarizer produces and revises HTML summaries.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
	Improve(ctx context.Context, html, instructions string) (string, error)
}

// HistoryStore reads past extraction runs.
type HistoryStore interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
	Stats(ctx context.Context) ([]history.DecoderStats, error)
}
