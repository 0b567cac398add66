// Package ocr recognizes text in images with a per-call OCR engine and
// reports engine progress to callers.
package ocr

import (
	"context"
	"errors"
	"strings"
)

// DefaultLanguage is used when a caller does not name any language.
const DefaultLanguage = "eng"

// DefaultConfidenceThreshold is the mean word confidence (0-100) under which
// a recognition is logged as unreliable.
const DefaultConfidenceThreshold = 60.0

var (
	// ErrNoTextRecognized means the engine finished but produced only whitespace.
	ErrNoTextRecognized = errors.New("no text could be recognized in the image")
	// ErrRecognitionFailed means the engine failed while recognizing text.
	ErrRecognitionFailed = errors.New("text recognition failed, please ensure the image contains clear, readable text")
	// ErrProcessingFailed covers every other engine failure, including cancellation.
	ErrProcessingFailed = errors.New("OCR processing failed")
)

// Outcome is the raw result of one recognition.
type Outcome struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Engine is a single-use OCR engine. The Recognizer drives it through
// Initialize, LoadLanguages and Recognize, then always calls Terminate.
type Engine interface {
	Initialize(ctx context.Context, report ReportFunc) error
	LoadLanguages(ctx context.Context, languages []string, report ReportFunc) error
	Recognize(ctx context.Context, image []byte, report ReportFunc) (Outcome, error)
	Terminate() error
}

// Factory builds a fresh engine for one call.
type Factory func() (Engine, error)

// State is the lifecycle position of an engine within one call.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateLanguageLoading
	StateRecognizing
	StateCompleted
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateLanguageLoading:
		return "language-loading"
	case StateRecognizing:
		return "recognizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// JoinLanguages builds the combined language string Tesseract expects.
func JoinLanguages(languages []string) string {
	return strings.Join(languages, "+")
}

func normalizeLanguages(languages, fallback []string) []string {
	out := make([]string, 0, len(languages))
	for _, l := range languages {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) > 0 {
		return out
	}
	if len(fallback) > 0 {
		return append([]string(nil), fallback...)
	}
	return []string{DefaultLanguage}
}
