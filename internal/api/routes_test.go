package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/doc-summarizer/backend/internal/config"
	"github.com/doc-summarizer/backend/internal/extract"
	"github.com/doc-summarizer/backend/internal/jobs"
	"github.com/doc-summarizer/backend/internal/testutil"
)

func newTestServer(t *testing.T, allowDeletion bool) (*echo.Echo, *testutil.MockStorage, *fakeJobs) {
	t.Helper()
	store := testutil.NewMockStorage()
	fj := newFakeJobs()
	logger := zaptest.NewLogger(t)

	e := echo.New()
	cfg := config.DefaultConfig()
	SetupMiddleware(e, cfg, logger)
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Store:         store,
		Jobs:          fj,
		Extractor:     &fakeExtractor{res: &extract.Result{Text: "x", Kind: extract.KindPDF}},
		Summarizer:    &fakeSummarizer{summary: "<p>s</p>"},
		AllowDeletion: allowDeletion,
		Logger:        logger,
		Version:       "test",
	}))
	return e, store, fj
}

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestRoutes_Health(t *testing.T) {
	e, _, _ := newTestServer(t, true)

	rec := serve(e, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestRoutes_ErrorsRenderAsJSON(t *testing.T) {
	e, _, _ := newTestServer(t, true)

	rec := serve(e, http.MethodGet, "/api/extract/nope/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Code)

	rec = serve(e, http.MethodGet, "/api/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "HTTP_ERROR", body.Code)
}

func TestRoutes_DeletionToggle(t *testing.T) {
	e, store, _ := newTestServer(t, false)
	store.AddFile("f1", "a.pdf", extract.MediaTypePDF, []byte("x"))

	rec := serve(e, http.MethodDelete, "/api/files/f1")
	assert.NotEqual(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, store.GetFileCount())

	e, store, _ = newTestServer(t, true)
	store.AddFile("f1", "a.pdf", extract.MediaTypePDF, []byte("x"))

	rec = serve(e, http.MethodDelete, "/api/files/f1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, store.GetFileCount())
}

func TestRoutes_HistoryDisabled(t *testing.T) {
	e, _, _ := newTestServer(t, true)

	rec := serve(e, http.MethodGet, "/api/history")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoutes_ExtractResult(t *testing.T) {
	e, _, fj := newTestServer(t, true)
	fj.put(&jobs.Job{ID: "j1", FileID: "f1", Decoder: "pdf", Status: jobs.StatusComplete}, "body text")

	rec := serve(e, http.MethodGet, "/api/extract/j1/result")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":"body text"`)

	rec = serve(e, http.MethodGet, "/api/extract/j1/result/msgpack")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))
}
