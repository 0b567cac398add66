package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/doc-summarizer/backend/internal/extract"
	"github.com/doc-summarizer/backend/internal/history"
	"github.com/doc-summarizer/backend/internal/jobs"
	"github.com/doc-summarizer/backend/internal/ocr"
	"github.com/doc-summarizer/backend/internal/storage"
)

// fakeJobs is an in-memory JobManager.
type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]*jobs.Job
	texts     map[string]string
	startErr  error
	lastStart []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]*jobs.Job), texts: make(map[string]string)}
}

func (f *fakeJobs) put(job *jobs.Job, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	if job.Status == jobs.StatusComplete {
		f.texts[job.ID] = text
	}
}

func (f *fakeJobs) StartJob(fileID string, languages []string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.lastStart = languages
	job := &jobs.Job{
		ID:        fmt.Sprintf("job-%d", len(f.jobs)+1),
		FileID:    fileID,
		Languages: languages,
		Status:    jobs.StatusQueued,
		Stage:     jobs.StageQueued,
		CreatedAt: time.Now(),
	}
	f.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (f *fakeJobs) GetJob(id string) (*jobs.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

func (f *fakeJobs) GetText(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.texts[id]
	return text, ok
}

func (f *fakeJobs) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if !j.Done() {
			n++
		}
	}
	return n
}

type fakeExtractor struct {
	res  *extract.Result
	err  error
	file extract.File
}

func (f *fakeExtractor) ExtractDetailed(ctx context.Context, file extract.File, sink ocr.Sink) (*extract.Result, error) {
	f.file = file
	return f.res, f.err
}

type fakeSummarizer struct {
	summary      string
	err          error
	input        string
	instructions string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	f.input = text
	return f.summary, f.err
}

func (f *fakeSummarizer) Improve(ctx context.Context, html, instructions string) (string, error) {
	f.input = html
	f.instructions = instructions
	return f.summary, f.err
}

type fakeHistory struct {
	records   []history.Record
	stats     []history.DecoderStats
	err       error
	lastLimit int
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	f.lastLimit = limit
	return f.records, f.err
}

func (f *fakeHistory) Stats(ctx context.Context) ([]history.DecoderStats, error) {
	return f.stats, f.err
}

var _ JobManager = (*jobs.Manager)(nil)
var _ HistoryStore = (*history.Store)(nil)
var _ storage.Store = (*storage.LocalStore)(nil)

// multipartFile builds a multipart body with a single "file" part.
func multipartFile(t *testing.T, filename, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func newContext(req *http.Request, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) > 0 {
		var names, values []string
		for i := 0; i+1 < len(params); i += 2 {
			names = append(names, params[i])
			values = append(values, params[i+1])
		}
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	return c, rec
}

// requireAPIError asserts err is an *APIError with the given status and code.
func requireAPIError(t *testing.T, err error, status int, code string) *APIError {
	t.Helper()
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.Truef(t, ok, "expected *APIError, got %T", err)
	require.Equal(t, status, apiErr.Status)
	require.Equal(t, code, apiErr.Code)
	return apiErr
}
