package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-summarizer/backend/internal/extract"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		development bool
		wantStatus  int
		wantCode    string
		wantDetails string
	}{
		{
			name:       "api error",
			err:        NewNotFoundError("job", "j1"),
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:        "wrapped extraction error",
			err:         fmt.Errorf("job: %w", &extract.Error{Kind: extract.DecodeFailed, File: "a.pdf", Err: extract.ErrDecodeFailed}),
			wantStatus:  http.StatusUnprocessableEntity,
			wantCode:    "EXTRACTION_FAILED",
			wantDetails: "decode_failed",
		},
		{
			name:        "unsupported type",
			err:         &extract.Error{Kind: extract.UnsupportedType, Err: extract.ErrUnsupportedType},
			wantStatus:  http.StatusUnsupportedMediaType,
			wantCode:    "UNSUPPORTED_MEDIA_TYPE",
			wantDetails: "unsupported_type",
		},
		{
			name:       "echo error",
			err:        echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Request Entity Too Large"),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "HTTP_ERROR",
		},
		{
			name:       "unexpected error hides details",
			err:        errors.New("db password leaked"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
		{
			name:        "unexpected error in development",
			err:         errors.New("stack here"),
			development: true,
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "INTERNAL_ERROR",
			wantDetails: "stack here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(httptest.NewRequest(http.MethodGet, "/", nil))

			ErrorHandler(tt.development)(tt.err, c)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantDetails, body.Details)
		})
	}
}

func TestErrorHandler_HeadAndCommitted(t *testing.T) {
	c, rec := newContext(httptest.NewRequest(http.MethodHead, "/", nil))
	ErrorHandler(false)(NewConflictError("busy"), c)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, rec.Body.String())

	c, rec = newContext(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, c.String(http.StatusOK, "partial"))
	ErrorHandler(false)(errors.New("late"), c)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestAPIError_Error(t *testing.T) {
	err := NewUnsupportedMediaTypeError("text/plain")
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE: unsupported file type: text/plain", err.Error())
}
