// handlers_upload.go - File upload operation handlers
package api

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/doc-summarizer/backend/internal/extract"
	"github.com/doc-summarizer/backend/internal/storage"
)

// Registered types for the document formats we read. mime.TypeByExtension
// depends on the host's mime tables and often lacks .docx.
var extensionTypes = map[string]string{
	".pdf":  extract.MediaTypePDF,
	".docx": extract.MediaTypeDOCX,
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store        storage.Store
	allowedTypes []string
	logger       *zap.Logger
}

// NewFileHandler creates a new file handler instance. An empty
// allowedTypes accepts every type the extractor can classify.
func NewFileHandler(store storage.Store, allowedTypes []string, logger *zap.Logger) FileHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileHandlerImpl{
		store:        store,
		allowedTypes: allowedTypes,
		logger:       logger,
	}
}

// resolveMediaType prefers the declared type and falls back to the file
// extension. Parameters such as charset are dropped.
func resolveMediaType(declared, filename string) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if mt, ok := extensionTypes[ext]; ok {
		return mt
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}

func (h *FileHandlerImpl) checkMediaType(mediaType string) error {
	if len(h.allowedTypes) == 0 {
		if _, err := extract.Classify(mediaType); err != nil {
			return NewUnsupportedMediaTypeError(mediaType)
		}
		return nil
	}
	for _, allowed := range h.allowedTypes {
		if strings.EqualFold(allowed, mediaType) {
			return nil
		}
	}
	return NewUnsupportedMediaTypeError(mediaType)
}

// HandleUploadFile accepts a multipart "file" field and saves it to storage
func (h *FileHandlerImpl) HandleUploadFile(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	mediaType := resolveMediaType(file.Header.Get(echo.HeaderContentType), file.Filename)
	if err := h.checkMediaType(mediaType); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(filepath.Base(file.Filename), mediaType, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	h.logger.Info("file uploaded",
		zap.String("id", info.ID),
		zap.String("name", info.Name),
		zap.String("mediaType", info.MediaType),
		zap.Int64("size", info.Size))
	return c.JSON(http.StatusCreated, info)
}

// HandleUploadChunk accepts a raw chunk body for a chunked upload.
// Query parameters: uploadId, index.
func (h *FileHandlerImpl) HandleUploadChunk(c echo.Context) error {
	uploadID := c.QueryParam("uploadId")
	if uploadID == "" {
		return NewValidationError("uploadId")
	}
	index, err := strconv.Atoi(c.QueryParam("index"))
	if err != nil || index < 0 {
		return NewValidationError("index")
	}

	if err := h.store.SaveChunk(uploadID, index, c.Request().Body); err != nil {
		return NewBadRequestError("failed to save chunk", err)
	}

	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload assembles a chunked upload into a stored file
func (h *FileHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	mediaType := resolveMediaType(req.MediaType, req.Name)
	if err := h.checkMediaType(mediaType); err != nil {
		return err
	}

	info, err := h.store.CompleteChunkedUpload(req.UploadID, filepath.Base(req.Name), mediaType, req.TotalChunks)
	if err != nil {
		return NewBadRequestError("failed to assemble upload", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleGetRecentFiles returns a list of recently uploaded files
func (h *FileHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}

	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return storeError("file", id, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a stored file
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		return storeError("file", id, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleRenameFile updates the name of a file
func (h *FileHandlerImpl) HandleRenameFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	var req renameFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if strings.TrimSpace(req.Name) == "" {
		return NewValidationError("name")
	}

	info, err := h.store.Rename(id, req.Name)
	if err != nil {
		return storeError("file", id, err)
	}

	return c.JSON(http.StatusOK, info)
}

func storeError(resource, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewNotFoundError(resource, id)
	}
	return NewInternalError("storage failure", err)
}

// Request/Response types

type completeUploadRequest struct {
	UploadID    string `json:"uploadId"`
	Name        string `json:"name"`
	MediaType   string `json:"mediaType"`
	TotalChunks int    `json:"totalChunks"`
}

func (r *completeUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	return nil
}

type renameFileRequest struct {
	Name string `json:"name"`
}
