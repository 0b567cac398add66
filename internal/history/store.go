// Package history records extraction runs in a DuckDB database.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"
)

// Record is one finished extraction run.
type Record struct {
	JobID      string    `json:"jobId" msgpack:"jobId"`
	FileID     string    `json:"fileId" msgpack:"fileId"`
	FileName   string    `json:"fileName" msgpack:"fileName"`
	MediaType  string    `json:"mediaType" msgpack:"mediaType"`
	Decoder    string    `json:"decoder" msgpack:"decoder"`
	Status     string    `json:"status" msgpack:"status"`
	ErrorKind  string    `json:"errorKind,omitempty" msgpack:"errorKind,omitempty"`
	CharCount  int       `json:"charCount" msgpack:"charCount"`
	Confidence *float64  `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
	DurationMs int64     `json:"durationMs" msgpack:"durationMs"`
	CreatedAt  time.Time `json:"createdAt" msgpack:"createdAt"`
}

// DecoderStats aggregates runs per decoder.
type DecoderStats struct {
	Decoder       string  `json:"decoder"`
	Runs          int     `json:"runs"`
	Failures      int     `json:"failures"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// Store is a DuckDB-backed extraction history.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	// DuckDB allows a single writer per database.
	writeMu sync.Mutex
}

// Open opens (or creates) the history database at path. An empty path
// keeps the history in memory.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS extraction_history (
			job_id      VARCHAR PRIMARY KEY,
			file_id     VARCHAR NOT NULL,
			file_name   VARCHAR NOT NULL,
			media_type  VARCHAR NOT NULL,
			decoder     VARCHAR NOT NULL,
			status      VARCHAR NOT NULL,
			error_kind  VARCHAR,
			char_count  INTEGER NOT NULL,
			confidence  DOUBLE,
			duration_ms BIGINT NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history table: %w", err)
	}

	logger.Info("history store opened", zap.String("path", displayPath(path)))
	return &Store{db: db, path: path, logger: logger}, nil
}

func displayPath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}

// Record appends one run. Recording the same job twice replaces the row.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var confidence sql.NullFloat64
	if rec.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *rec.Confidence, Valid: true}
	}
	var errorKind sql.NullString
	if rec.ErrorKind != "" {
		errorKind = sql.NullString{String: rec.ErrorKind, Valid: true}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO extraction_history
			(job_id, file_id, file_name, media_type, decoder, status, error_kind, char_count, confidence, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.FileID, rec.FileName, rec.MediaType, rec.Decoder, rec.Status,
		errorKind, rec.CharCount, confidence, rec.DurationMs, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", rec.JobID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, file_id, file_name, media_type, decoder, status, error_kind,
		       char_count, confidence, duration_ms, created_at
		FROM extraction_history
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec        Record
			errorKind  sql.NullString
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&rec.JobID, &rec.FileID, &rec.FileName, &rec.MediaType, &rec.Decoder,
			&rec.Status, &errorKind, &rec.CharCount, &confidence, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.ErrorKind = errorKind.String
		if confidence.Valid {
			c := confidence.Float64
			rec.Confidence = &c
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats aggregates all runs per decoder.
func (s *Store) Stats(ctx context.Context) ([]DecoderStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decoder,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'error'),
		       AVG(duration_ms)
		FROM extraction_history
		GROUP BY decoder
		ORDER BY decoder`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history stats: %w", err)
	}
	defer rows.Close()

	var stats []DecoderStats
	for rows.Next() {
		var st DecoderStats
		if err := rows.Scan(&st.Decoder, &st.Runs, &st.Failures, &st.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
