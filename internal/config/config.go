// Package config provides YAML-based configuration management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the root configuration file.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port              int    `yaml:"port"`
	BindAddress       string `yaml:"bind_address"`
	EnableCORS        bool   `yaml:"enable_cors"`
	AllowOrigins      string `yaml:"allow_origins"`
	ReadTimeout       int    `yaml:"read_timeout_seconds"`
	WriteTimeout      int    `yaml:"write_timeout_seconds"`
	IdleTimeout       int    `yaml:"idle_timeout_seconds"`
	BodyLimit         string `yaml:"body_limit"`
	EnableCompression bool   `yaml:"enable_compression"`
	CompressionLevel  int    `yaml:"compression_level"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `yaml:"data_directory"`
	UploadsDirectory string `yaml:"uploads_directory"`
	FileIndex        string `yaml:"file_index"`
	HistoryDatabase  string `yaml:"history_database"`
	AllowDeletion    bool   `yaml:"allow_deletion"`
}

// ExtractionConfig controls the text extraction pipeline.
type ExtractionConfig struct {
	MaxConcurrentJobs      int      `yaml:"max_concurrent_jobs"`
	JobTimeoutSeconds      int      `yaml:"job_timeout_seconds"`
	JobRetentionMinutes    int      `yaml:"job_retention_minutes"`
	CleanupIntervalMinutes int      `yaml:"cleanup_interval_minutes"`
	PDFPageWorkers         int      `yaml:"pdf_page_workers"`
	PDFQualityProbe        bool     `yaml:"pdf_quality_probe"`
	OCRLanguages           []string `yaml:"ocr_languages"`
	LowConfidenceThreshold float64  `yaml:"low_confidence_threshold"`
	AllowedMediaTypes      []string `yaml:"allowed_media_types"`
}

// SummarizerConfig points at an OpenAI-compatible chat completions API.
type SummarizerConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	MaxRetries        int    `yaml:"max_retries"`
	MaxInputChars     int    `yaml:"max_input_chars"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Development    bool   `yaml:"development"`
	RequestLogging bool   `yaml:"request_logging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:              8089,
			BindAddress:       "0.0.0.0",
			EnableCORS:        true,
			AllowOrigins:      "*",
			ReadTimeout:       30,
			WriteTimeout:      0, // progress streams and OCR outlive a fixed write deadline
			IdleTimeout:       120,
			BodyLimit:         "50M",
			EnableCompression: true,
			CompressionLevel:  5,
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			FileIndex:        "./data/files.db",
			HistoryDatabase:  "./data/history.duckdb",
			AllowDeletion:    true,
		},
		Extraction: ExtractionConfig{
			MaxConcurrentJobs:      2,
			JobTimeoutSeconds:      120,
			JobRetentionMinutes:    30,
			CleanupIntervalMinutes: 5,
			PDFPageWorkers:         1,
			PDFQualityProbe:        true,
			OCRLanguages:           []string{"eng"},
			LowConfidenceThreshold: 60,
			AllowedMediaTypes: []string{
				"application/pdf",
				"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				"image/png",
				"image/jpeg",
			},
		},
		Summarizer: SummarizerConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			TimeoutSeconds:    60,
			RequestsPerMinute: 20,
			MaxRetries:        2,
			MaxInputChars:     100000,
		},
		Logging: LoggingConfig{
			Level:          "info",
			RequestLogging: true,
		},
	}
}

// LoadConfig loads configuration from a YAML file, creating it with
// defaults on first run.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Unmarshal over defaults so missing keys keep their default values.
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Document summarizer configuration\n# This file is auto-generated on first run\n\n")
	if err := os.WriteFile(configPath, append(header, output...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Extraction.MaxConcurrentJobs < 1 {
		return fmt.Errorf("extraction.max_concurrent_jobs must be at least 1")
	}
	if c.Extraction.LowConfidenceThreshold < 0 || c.Extraction.LowConfidenceThreshold > 100 {
		return fmt.Errorf("extraction.low_confidence_threshold must be within 0-100, got %v", c.Extraction.LowConfidenceThreshold)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.FileIndex = filepath.Join(dataDir, "files.db")
		c.Storage.HistoryDatabase = filepath.Join(dataDir, "history.duckdb")
	}

	if key := os.Getenv("SUMMARIZER_API_KEY"); key != "" {
		c.Summarizer.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Summarizer.APIKey == "" {
		c.Summarizer.APIKey = key
	}
	if url := os.Getenv("SUMMARIZER_BASE_URL"); url != "" {
		c.Summarizer.BaseURL = url
	}
	if model := os.Getenv("SUMMARIZER_MODEL"); model != "" {
		c.Summarizer.Model = model
	}

	if langs := os.Getenv("OCR_LANGUAGES"); langs != "" {
		var parsed []string
		for _, l := range strings.FieldsFunc(langs, func(r rune) bool { return r == ',' || r == '+' }) {
			if l = strings.TrimSpace(l); l != "" {
				parsed = append(parsed, l)
			}
		}
		if len(parsed) > 0 {
			c.Extraction.OCRLanguages = parsed
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.FileIndex,
		&c.Storage.HistoryDatabase,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// JobTimeout returns the external deadline applied to each extraction.
func (c *AppConfig) JobTimeout() time.Duration {
	return time.Duration(c.Extraction.JobTimeoutSeconds) * time.Second
}

// IsAllowedMediaType reports whether uploads of mediaType are accepted.
func (c *AppConfig) IsAllowedMediaType(mediaType string) bool {
	for _, allowed := range c.Extraction.AllowedMediaTypes {
		if strings.EqualFold(allowed, mediaType) {
			return true
		}
	}
	return false
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}
	for _, file := range []string{c.Storage.FileIndex, c.Storage.HistoryDatabase} {
		if file != "" {
			dirs = append(dirs, filepath.Dir(file))
		}
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
