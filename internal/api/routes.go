// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/doc-summarizer/backend/internal/config"
	"github.com/doc-summarizer/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store             storage.Store
	Jobs              JobManager
	Extractor         Extractor
	Summarizer        Summarizer
	History           HistoryStore
	AllowedMediaTypes []string
	AllowDeletion     bool
	Logger            *zap.Logger
	Version           string
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Files     FileHandler
	Extract   ExtractHandler
	Summary   SummaryHandler
	History   HistoryHandler
	WebSocket *WebSocketHandler

	allowDeletion bool
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		Health:        NewHealthHandler(deps.Version, deps.Jobs),
		Files:         NewFileHandler(deps.Store, deps.AllowedMediaTypes, logger.Named("files")),
		Extract:       NewExtractHandler(deps.Jobs, deps.Extractor, logger.Named("extract")),
		Summary:       NewSummaryHandler(deps.Summarizer, deps.Jobs, logger.Named("summarize")),
		History:       NewHistoryHandler(deps.History),
		WebSocket:     NewWebSocketHandler(deps.Jobs, logger.Named("ws")),
		allowDeletion: deps.AllowDeletion,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// File upload routes
	fileGroup := apiGroup.Group("/files")
	fileGroup.POST("/upload", handlers.Files.HandleUploadFile)
	fileGroup.POST("/upload/chunk", handlers.Files.HandleUploadChunk)
	fileGroup.POST("/upload/complete", handlers.Files.HandleCompleteUpload)
	fileGroup.GET("/recent", handlers.Files.HandleGetRecentFiles)
	fileGroup.GET("/:id", handlers.Files.HandleGetFile)
	fileGroup.PUT("/:id", handlers.Files.HandleRenameFile)
	if handlers.allowDeletion {
		fileGroup.DELETE("/:id", handlers.Files.HandleDeleteFile)
	}

	// Extraction job routes
	extractGroup := apiGroup.Group("/extract")
	extractGroup.POST("", handlers.Extract.HandleStartExtract)
	extractGroup.POST("/direct", handlers.Extract.HandleExtractDirect)
	extractGroup.GET("/:jobId/status", handlers.Extract.HandleExtractStatus)
	extractGroup.GET("/:jobId/progress", handlers.Extract.HandleExtractProgressStream)
	extractGroup.GET("/:jobId/result", handlers.Extract.HandleExtractResult)
	extractGroup.GET("/:jobId/result/msgpack", handlers.Extract.HandleExtractResultMsgpack)

	// WebSocket progress
	apiGroup.GET("/ws/extract", handlers.WebSocket.HandleWebSocket)

	// Summaries
	apiGroup.POST("/summarize", handlers.Summary.HandleSummarize)
	apiGroup.POST("/improve", handlers.Summary.HandleImprove)
	apiGroup.POST("/export/markdown", handlers.Summary.HandleExportMarkdown)

	// History
	apiGroup.GET("/history", handlers.History.HandleHistory)
	apiGroup.GET("/history/stats", handlers.History.HandleHistoryStats)
}

func isStreaming(c echo.Context) bool {
	req := c.Request()
	return req.Header.Get(echo.HeaderAccept) == "text/event-stream" ||
		strings.HasSuffix(req.URL.Path, "/progress") ||
		strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e.HTTPErrorHandler = ErrorHandler(cfg.Logging.Development)

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("handler panic",
				zap.String("path", c.Request().URL.Path),
				zap.Error(err),
				zap.ByteString("stack", stack))
			return err
		},
	}))

	if cfg.Logging.RequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/status") ||
					strings.HasSuffix(path, "/progress") ||
					path == "/api/health"
			},
			LogMethod:   true,
			LogURI:      true,
			LogStatus:   true,
			LogLatency:  true,
			LogRemoteIP: true,
			LogError:    true,
			HandleError: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				fields := []zap.Field{
					zap.String("method", v.Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Duration("latency", v.Latency),
					zap.String("remote_ip", v.RemoteIP),
				}
				if v.Error != nil {
					logger.Warn("request", append(fields, zap.Error(v.Error))...)
					return nil
				}
				logger.Info("request", fields...)
				return nil
			},
		}))
	}

	if cfg.Server.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level:   cfg.Server.CompressionLevel,
			Skipper: isStreaming,
		}))
	}

	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 1 && origins[0] == "" {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
}
