// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/doc-summarizer/backend/internal/extract"
	"github.com/doc-summarizer/backend/internal/summarize"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewUnsupportedMediaTypeError creates a 415 error for rejected file types
func NewUnsupportedMediaTypeError(mediaType string) *APIError {
	return &APIError{
		Status:  http.StatusUnsupportedMediaType,
		Code:    "UNSUPPORTED_MEDIA_TYPE",
		Message: fmt.Sprintf("unsupported file type: %s", mediaType),
	}
}

// NewExtractionError creates a 422 error for documents that could not be read.
// kind is the extract.ErrorKind and travels in Details.
func NewExtractionError(message, kind string) *APIError {
	return &APIError{
		Status:  http.StatusUnprocessableEntity,
		Code:    "EXTRACTION_FAILED",
		Message: message,
		Details: kind,
	}
}

// NewUpstreamError creates a 502 error for summarization service failures
func NewUpstreamError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadGateway,
		Code:    "UPSTREAM_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// extractionAPIError maps an extraction failure kind onto an API error.
func extractionAPIError(kind extract.ErrorKind, message string) *APIError {
	if kind == extract.UnsupportedType {
		return &APIError{
			Status:  http.StatusUnsupportedMediaType,
			Code:    "UNSUPPORTED_MEDIA_TYPE",
			Message: message,
			Details: string(kind),
		}
	}
	return NewExtractionError(message, string(kind))
}

// summarizerAPIError maps a summarizer failure onto an API error.
func summarizerAPIError(err error) *APIError {
	if errors.Is(err, summarize.ErrEmptyInput) {
		return NewBadRequestError(err.Error(), nil)
	}
	var statusErr *summarize.StatusError
	if errors.As(err, &statusErr) {
		apiErr := NewUpstreamError(statusErr.Message, nil)
		apiErr.Details = statusErr.Detail
		return apiErr
	}
	return NewUpstreamError("summarization failed", err)
}

// ErrorHandler returns an echo HTTPErrorHandler rendering every error as
// an APIError. Unexpected error details are only exposed in development.
func ErrorHandler(development bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			apiErr     *APIError
			httpErr    *echo.HTTPError
			extractErr *extract.Error
		)
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &extractErr):
			apiErr = extractionAPIError(extractErr.Kind, extractErr.Error())
		case errors.As(err, &httpErr):
			apiErr = &APIError{
				Status:  httpErr.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", httpErr.Message),
			}
		default:
			apiErr = &APIError{
				Status:  http.StatusInternalServerError,
				Code:    "INTERNAL_ERROR",
				Message: "An unexpected error occurred",
			}
			if development {
				apiErr.Details = err.Error()
			}
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(apiErr.Status)
			return
		}
		c.JSON(apiErr.Status, apiErr)
	}
}
