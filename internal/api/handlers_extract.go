// handlers_extract.go - Text extraction job handlers
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/doc-summarizer/backend/internal/extract"
	"github.com/doc-summarizer/backend/internal/jobs"
	"github.com/doc-summarizer/backend/internal/storage"
)

// ExtractHandlerImpl implements the ExtractHandler interface
type ExtractHandlerImpl struct {
	jobs          JobManager
	extractor     Extractor
	logger        *zap.Logger
	pollInterval  time.Duration
	streamTimeout time.Duration
}

// NewExtractHandler creates a new extraction handler
func NewExtractHandler(jobMgr JobManager, extractor Extractor, logger *zap.Logger) *ExtractHandlerImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractHandlerImpl{
		jobs:          jobMgr,
		extractor:     extractor,
		logger:        logger,
		pollInterval:  100 * time.Millisecond,
		streamTimeout: 5 * time.Minute,
	}
}

type startExtractRequest struct {
	FileID    string   `json:"fileId"`
	Languages []string `json:"languages"`
}

// extractResultResponse is the body of the result endpoints.
type extractResultResponse struct {
	JobID      string   `json:"jobId" msgpack:"jobId"`
	FileID     string   `json:"fileId" msgpack:"fileId"`
	Decoder    string   `json:"decoder" msgpack:"decoder"`
	Text       string   `json:"text" msgpack:"text"`
	Confidence *float64 `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
	PageCount  int      `json:"pageCount,omitempty" msgpack:"pageCount,omitempty"`
	Caveats    []string `json:"caveats,omitempty" msgpack:"caveats,omitempty"`
}

// HandleStartExtract starts an async extraction job for an uploaded file
func (h *ExtractHandlerImpl) HandleStartExtract(c echo.Context) error {
	var req startExtractRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.FileID == "" {
		return NewValidationError("fileId")
	}

	job, err := h.jobs.StartJob(req.FileID, cleanLanguages(req.Languages))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NewNotFoundError("file", req.FileID)
		}
		return NewInternalError("failed to start extraction", err)
	}

	return c.JSON(http.StatusAccepted, job)
}

// HandleExtractDirect extracts an uploaded multipart "file" synchronously
// without storing it. Errors go through the shared error handler.
func (h *ExtractHandlerImpl) HandleExtractDirect(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	src, err := fh.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return NewBadRequestError("failed to read uploaded file", err)
	}

	var languages []string
	if v := c.FormValue("languages"); v != "" {
		languages = cleanLanguages(strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '+' }))
	}

	res, err := h.extractor.ExtractDetailed(c.Request().Context(), extract.File{
		Name:      filepath.Base(fh.Filename),
		MediaType: resolveMediaType(fh.Header.Get(echo.HeaderContentType), fh.Filename),
		Data:      data,
		Languages: languages,
	}, nil)
	if err != nil {
		return err
	}

	resp := extractResultResponse{
		Decoder:   string(res.Kind),
		Text:      res.Text,
		PageCount: res.PageCount,
		Caveats:   res.Caveats,
	}
	if res.HasConfidence {
		conf := res.Confidence
		resp.Confidence = &conf
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleExtractStatus returns the current status of an extraction job
func (h *ExtractHandlerImpl) HandleExtractStatus(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}

	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("job", id)
	}

	return c.JSON(http.StatusOK, job)
}

// HandleExtractProgressStream streams job progress via Server-Sent Events
func (h *ExtractHandlerImpl) HandleExtractProgressStream(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}

	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("job", id)
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	h.sendSSEData(c, job)
	if job.Done() {
		return nil
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(h.streamTimeout)
	defer timeout.Stop()

	last := job
	for {
		select {
		case <-ticker.C:
			job, ok := h.jobs.GetJob(id)
			if !ok {
				h.sendSSEError(c, "job not found")
				return nil
			}
			if changed(last, job) {
				h.sendSSEData(c, job)
				last = job
			}
			if job.Done() {
				return nil
			}

		case <-timeout.C:
			h.sendSSEError(c, "stream timeout")
			return nil

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func changed(a, b *jobs.Job) bool {
	return a.Status != b.Status || a.Stage != b.Stage || a.StageProgress != b.StageProgress || a.Progress != b.Progress
}

// resultFor returns the finished job's result or the API error explaining
// why there is none.
func (h *ExtractHandlerImpl) resultFor(id string) (*extractResultResponse, error) {
	job, ok := h.jobs.GetJob(id)
	if !ok {
		return nil, NewNotFoundError("job", id)
	}
	switch job.Status {
	case jobs.StatusComplete:
	case jobs.StatusError:
		if job.ErrorKind == jobs.ErrorKindInternal {
			return nil, NewInternalError("extraction failed", errors.New(job.Error))
		}
		return nil, extractionAPIError(extract.ErrorKind(job.ErrorKind), job.Error)
	default:
		return nil, NewConflictError(fmt.Sprintf("extraction still running (%s, %.0f%%)", job.Stage, job.Progress))
	}

	text, ok := h.jobs.GetText(id)
	if !ok {
		return nil, NewNotFoundError("job", id)
	}
	return &extractResultResponse{
		JobID:      job.ID,
		FileID:     job.FileID,
		Decoder:    job.Decoder,
		Text:       text,
		Confidence: job.Confidence,
		PageCount:  job.PageCount,
		Caveats:    job.Caveats,
	}, nil
}

// HandleExtractResult returns the extracted text of a finished job
func (h *ExtractHandlerImpl) HandleExtractResult(c echo.Context) error {
	res, err := h.resultFor(c.Param("jobId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// HandleExtractResultMsgpack returns the result in MessagePack format
func (h *ExtractHandlerImpl) HandleExtractResultMsgpack(c echo.Context) error {
	res, err := h.resultFor(c.Param("jobId"))
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(res)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

func (h *ExtractHandlerImpl) sendSSEData(c echo.Context, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to encode SSE payload", zap.Error(err))
		return
	}
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func (h *ExtractHandlerImpl) sendSSEError(c echo.Context, message string) {
	h.sendSSEData(c, map[string]string{"error": message})
}

func cleanLanguages(in []string) []string {
	var out []string
	for _, l := range in {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
