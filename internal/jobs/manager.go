// Package jobs runs text extractions asynchronously and tracks their
// progress so clients can poll or stream it.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doc-summarizer/backend/internal/extract"
	"github.com/doc-summarizer/backend/internal/history"
	"github.com/doc-summarizer/backend/internal/models"
	"github.com/doc-summarizer/backend/internal/ocr"
)

// Status represents the job processing status.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusExtracting Status = "extracting"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Stage names reported outside of OCR. OCR jobs report the ocr.Stage
// values while recognizing.
const (
	StageQueued     = "queued"
	StageReading    = "reading file"
	StageDecoding   = "decoding"
	StageFinalizing = "finalizing"
	StageDone       = "done"
)

// ErrorKindInternal marks failures outside the extraction pipeline.
const ErrorKindInternal = "internal"

// Job represents an async extraction job.
type Job struct {
	ID            string     `json:"id" msgpack:"id"`
	FileID        string     `json:"fileId" msgpack:"fileId"`
	FileName      string     `json:"fileName" msgpack:"fileName"`
	MediaType     string     `json:"mediaType" msgpack:"mediaType"`
	Decoder       string     `json:"decoder,omitempty" msgpack:"decoder,omitempty"`
	Languages     []string   `json:"languages,omitempty" msgpack:"languages,omitempty"`
	Status        Status     `json:"status" msgpack:"status"`
	Stage         string     `json:"stage" msgpack:"stage"`
	StageProgress float64    `json:"stageProgress" msgpack:"stageProgress"` // 0-100 within Stage
	Progress      float64    `json:"progress" msgpack:"progress"`           // 0-100 overall
	Text          string     `json:"-" msgpack:"-"`
	CharCount     int        `json:"charCount" msgpack:"charCount"`
	Confidence    *float64   `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
	PageCount     int        `json:"pageCount,omitempty" msgpack:"pageCount,omitempty"`
	Caveats       []string   `json:"caveats,omitempty" msgpack:"caveats,omitempty"`
	Error         string     `json:"error,omitempty" msgpack:"error,omitempty"`
	ErrorKind     string     `json:"errorKind,omitempty" msgpack:"errorKind,omitempty"`
	CreatedAt     time.Time  `json:"createdAt" msgpack:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" msgpack:"completedAt,omitempty"`
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	return j.Status == StatusComplete || j.Status == StatusError
}

// Extractor is the extraction pipeline.
type Extractor interface {
	ExtractDetailed(ctx context.Context, file extract.File, sink ocr.Sink) (*extract.Result, error)
}

// FileStore is the part of storage the manager needs.
type FileStore interface {
	Get(id string) (*models.FileInfo, error)
	ReadFile(id string) ([]byte, error)
	SetStatus(id string, status models.FileStatus) error
}

// Recorder persists finished jobs.
type Recorder interface {
	Record(ctx context.Context, rec history.Record) error
}

// Manager handles async extraction jobs.
type Manager struct {
	jobs      map[string]*Job
	mu        sync.RWMutex
	store     FileStore
	extractor Extractor
	recorder  Recorder
	logger    *zap.Logger

	timeout   time.Duration
	languages []string
	sem       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithRecorder records every finished job.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithMaxConcurrent bounds the number of extractions running at once.
func WithMaxConcurrent(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sem = make(chan struct{}, n)
		}
	}
}

// WithTimeout sets the deadline applied to each extraction. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithDefaultLanguages sets the OCR languages used when a job names none.
func WithDefaultLanguages(languages ...string) Option {
	return func(m *Manager) { m.languages = languages }
}

// NewManager creates a new extraction job manager.
func NewManager(store FileStore, extractor Extractor, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		jobs:      make(map[string]*Job),
		store:     store,
		extractor: extractor,
		logger:    zap.NewNop(),
		timeout:   2 * time.Minute,
		sem:       make(chan struct{}, 2),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartJob begins async extraction of a stored file.
func (m *Manager) StartJob(fileID string, languages []string) (*Job, error) {
	info, err := m.store.Get(fileID)
	if err != nil {
		return nil, err
	}
	if len(languages) == 0 {
		languages = m.languages
	}

	job := &Job{
		ID:        uuid.New().String(),
		FileID:    info.ID,
		FileName:  info.Name,
		MediaType: info.MediaType,
		Languages: languages,
		Status:    StatusQueued,
		Stage:     StageQueued,
		CreatedAt: time.Now(),
	}
	if kind, err := extract.Classify(info.MediaType); err == nil {
		job.Decoder = string(kind)
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	snapshot := job.snapshot()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.processJob(job)

	return snapshot, nil
}

// GetJob returns a snapshot of a job.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.snapshot(), true
}

// GetText returns the extracted text of a completed job.
func (m *Manager) GetText(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusComplete {
		return "", false
	}
	return job.Text, true
}

// snapshot deep-copies j. Callers hold the manager lock.
func (j *Job) snapshot() *Job {
	cp := *j
	if j.Caveats != nil {
		cp.Caveats = append([]string(nil), j.Caveats...)
	}
	if j.Languages != nil {
		cp.Languages = append([]string(nil), j.Languages...)
	}
	if j.Confidence != nil {
		c := *j.Confidence
		cp.Confidence = &c
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// processJob handles the actual async processing.
func (m *Manager) processJob(job *Job) {
	defer m.wg.Done()
	log := m.logger.With(zap.String("job", job.ID), zap.String("file", job.FileName))

	// Recover from panics to prevent backend crash
	defer func() {
		if r := recover(); r != nil {
			log.Error("extraction panicked", zap.Any("panic", r))
			m.markJobError(job, ErrorKindInternal, fmt.Sprintf("extraction panicked: %v", r))
			m.finish(job)
		}
	}()

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-m.ctx.Done():
		m.markJobError(job, ErrorKindInternal, "server shutting down")
		m.finish(job)
		return
	}

	ctx := m.ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	start := time.Now()
	log.Info("extraction started", zap.String("mediaType", job.MediaType), zap.String("decoder", job.Decoder))

	m.updateJobStatus(job, StatusExtracting, StageReading, 0)
	data, err := m.store.ReadFile(job.FileID)
	if err != nil {
		m.markJobError(job, ErrorKindInternal, fmt.Sprintf("failed to read file: %v", err))
		m.finish(job)
		return
	}
	if err := m.store.SetStatus(job.FileID, models.FileStatusExtracting); err != nil {
		log.Debug("failed to update file status", zap.Error(err))
	}
	m.updateJobStatus(job, StatusExtracting, StageDecoding, 0)

	sink := ocr.SinkFunc(func(ev ocr.ProgressEvent) {
		m.updateJobStatus(job, StatusExtracting, string(ev.Stage), ev.Fraction*100)
	})

	res, err := m.extractor.ExtractDetailed(ctx, extract.File{
		Name:      job.FileName,
		MediaType: job.MediaType,
		Data:      data,
		Languages: job.Languages,
	}, sink)
	if err != nil {
		kind := string(extract.KindOf(err))
		if kind == "" {
			kind = ErrorKindInternal
		}
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("extraction timed out", zap.Duration("timeout", m.timeout))
		}
		m.markJobError(job, kind, err.Error())
		m.finish(job)
		return
	}

	m.updateJobStatus(job, StatusExtracting, StageFinalizing, 0)
	m.markJobComplete(job, res)
	log.Info("extraction complete",
		zap.Int("chars", utf8.RuneCountInString(res.Text)),
		zap.Duration("elapsed", time.Since(start)))
	m.finish(job)
}

// finish records the terminal state in storage and history.
func (m *Manager) finish(job *Job) {
	m.mu.RLock()
	snap := job.snapshot()
	m.mu.RUnlock()

	status := models.FileStatusExtracted
	if snap.Status == StatusError {
		status = models.FileStatusError
	}
	if err := m.store.SetStatus(snap.FileID, status); err != nil {
		m.logger.Debug("failed to update file status", zap.String("file", snap.FileID), zap.Error(err))
	}

	if m.recorder == nil {
		return
	}
	var duration int64
	if snap.CompletedAt != nil {
		duration = snap.CompletedAt.Sub(snap.CreatedAt).Milliseconds()
	}
	rec := history.Record{
		JobID:      snap.ID,
		FileID:     snap.FileID,
		FileName:   snap.FileName,
		MediaType:  snap.MediaType,
		Decoder:    snap.Decoder,
		Status:     string(snap.Status),
		ErrorKind:  snap.ErrorKind,
		CharCount:  snap.CharCount,
		Confidence: snap.Confidence,
		DurationMs: duration,
		CreatedAt:  snap.CreatedAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.recorder.Record(ctx, rec); err != nil {
		m.logger.Warn("failed to record job history", zap.String("job", snap.ID), zap.Error(err))
	}
}

// ocrStageRanges maps OCR stages onto the decoding band of overall progress.
var ocrStageRanges = map[string][2]float64{
	string(ocr.StageLoadingCore):     {10, 20},
	string(ocr.StageInitializing):    {20, 30},
	string(ocr.StageLoadingLanguage): {30, 45},
	string(ocr.StageRecognizing):     {45, 95},
}

// updateJobStatus updates job progress (thread-safe).
func (m *Manager) updateJobStatus(job *Job, status Status, stage string, stageProgress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.Done() {
		return
	}
	if stageProgress < 0 {
		stageProgress = 0
	} else if stageProgress > 100 {
		stageProgress = 100
	}

	job.Status = status
	job.Stage = stage
	job.StageProgress = stageProgress

	// Reading: 0-10%, Decoding: 10-95%, Finalizing: 95-100%
	var progress float64
	switch stage {
	case StageReading:
		progress = stageProgress * 0.1
	case StageDecoding:
		progress = 10 + stageProgress*0.85
	case StageFinalizing:
		progress = 95 + stageProgress*0.05
	default:
		r, ok := ocrStageRanges[stage]
		if !ok {
			r = [2]float64{10, 95}
		}
		progress = r[0] + (r[1]-r[0])*stageProgress/100
	}
	// Overall progress never goes backwards.
	if progress > job.Progress {
		job.Progress = progress
	}
}

// markJobComplete marks job as complete (thread-safe).
func (m *Manager) markJobComplete(job *Job, res *extract.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusComplete
	job.Stage = StageDone
	job.StageProgress = 100
	job.Progress = 100
	job.Text = res.Text
	job.CharCount = utf8.RuneCountInString(res.Text)
	job.PageCount = res.PageCount
	job.Caveats = res.Caveats
	if res.HasConfidence {
		c := res.Confidence
		job.Confidence = &c
	}
	now := time.Now()
	job.CompletedAt = &now
}

// markJobError marks job as failed (thread-safe).
func (m *Manager) markJobError(job *Job, kind, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.Done() {
		return
	}
	job.Status = StatusError
	job.Error = errMsg
	job.ErrorKind = kind
	now := time.Now()
	job.CompletedAt = &now
}

// CleanupOldJobs removes finished jobs older than maxAge and returns how
// many were removed.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Done() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// ActiveCount returns the number of queued or running jobs.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, job := range m.jobs {
		if !job.Done() {
			n++
		}
	}
	return n
}

// Shutdown cancels running extractions and waits for their goroutines,
// or until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
