package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/doc-summarizer/backend/internal/api"
	"github.com/doc-summarizer/backend/internal/config"
	"github.com/doc-summarizer/backend/internal/extract"
	"github.com/doc-summarizer/backend/internal/history"
	"github.com/doc-summarizer/backend/internal/jobs"
	"github.com/doc-summarizer/backend/internal/logging"
	"github.com/doc-summarizer/backend/internal/ocr"
	"github.com/doc-summarizer/backend/internal/storage"
	"github.com/doc-summarizer/backend/internal/summarize"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func defaultConfigPath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(filepath.Dir(exePath), "config.yaml")
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, configPath string, logger *zap.Logger) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory, cfg.Storage.FileIndex)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer fileStore.Close()

	recognizer := ocr.NewRecognizer(ocr.NewTesseractFactory(),
		ocr.WithLogger(logger.Named("ocr")),
		ocr.WithMaxEngines(cfg.Extraction.MaxConcurrentJobs),
		ocr.WithConfidenceThreshold(cfg.Extraction.LowConfidenceThreshold),
		ocr.WithDefaultLanguages(cfg.Extraction.OCRLanguages...))

	dispatcher := extract.NewDispatcher(recognizer,
		extract.WithLogger(logger.Named("extract")),
		extract.WithPDFWorkers(cfg.Extraction.PDFPageWorkers),
		extract.WithQualityProbe(cfg.Extraction.PDFQualityProbe))

	jobOpts := []jobs.Option{
		jobs.WithLogger(logger.Named("jobs")),
		jobs.WithMaxConcurrent(cfg.Extraction.MaxConcurrentJobs),
		jobs.WithTimeout(cfg.JobTimeout()),
		jobs.WithDefaultLanguages(cfg.Extraction.OCRLanguages...),
	}

	// History is optional; the API answers 503 for it when disabled.
	var historyStore api.HistoryStore
	if cfg.Storage.HistoryDatabase != "" {
		hs, err := history.Open(cfg.Storage.HistoryDatabase, logger.Named("history"))
		if err != nil {
			logger.Warn("extraction history disabled", zap.Error(err))
		} else {
			defer hs.Close()
			historyStore = hs
			jobOpts = append(jobOpts, jobs.WithRecorder(hs))
		}
	}

	jobMgr := jobs.NewManager(fileStore, dispatcher, jobOpts...)

	summarizer := summarize.NewClient(summarize.Config{
		BaseURL:           cfg.Summarizer.BaseURL,
		APIKey:            cfg.Summarizer.APIKey,
		Model:             cfg.Summarizer.Model,
		Timeout:           time.Duration(cfg.Summarizer.TimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.Summarizer.RequestsPerMinute,
		MaxRetries:        cfg.Summarizer.MaxRetries,
		MaxInputChars:     cfg.Summarizer.MaxInputChars,
	}, summarize.WithLogger(logger.Named("summarize")))
	if cfg.Summarizer.APIKey == "" {
		logger.Warn("no summarizer API key configured; requests are sent unauthenticated",
			zap.String("baseURL", cfg.Summarizer.BaseURL))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background job cleanup
	go func() {
		interval := time.Duration(cfg.Extraction.CleanupIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		retention := time.Duration(cfg.Extraction.JobRetentionMinutes) * time.Minute
		for {
			select {
			case <-ticker.C:
				if n := jobMgr.CleanupOldJobs(retention); n > 0 {
					logger.Debug("cleaned up finished jobs", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, cfg, logger.Named("http"))
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:             fileStore,
		Jobs:              jobMgr,
		Extractor:         dispatcher,
		Summarizer:        summarizer,
		History:           historyStore,
		AllowedMediaTypes: cfg.Extraction.AllowedMediaTypes,
		AllowDeletion:     cfg.Storage.AllowDeletion,
		Logger:            logger,
		Version:           Version,
	}))

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	logger.Info("document summarizer starting",
		zap.String("version", Version),
		zap.String("buildTime", BuildTime),
		zap.String("config", configPath),
		zap.String("listen", cfg.GetServerAddr()),
		zap.String("dataDir", cfg.Storage.DataDirectory),
		zap.Strings("ocrLanguages", cfg.Extraction.OCRLanguages))

	errCh := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := jobMgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs did not finish before shutdown deadline", zap.Error(err))
	}
	if err := recognizer.Wait(shutdownCtx); err != nil {
		logger.Warn("OCR engines still running at shutdown", zap.Error(err))
	}
	return nil
}
