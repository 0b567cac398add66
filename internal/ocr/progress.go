package ocr

import (
	"strings"
	"sync"
)

// Stage names one phase of an OCR run as seen by progress subscribers.
type Stage string

const (
	StageLoadingCore     Stage = "loading-core"
	StageInitializing    Stage = "initializing"
	StageLoadingLanguage Stage = "loading-language-data"
	StageRecognizing     Stage = "recognizing"
)

// ProgressEvent is delivered to a Sink while an image is being recognized.
type ProgressEvent struct {
	Stage    Stage   `json:"stage"`
	Fraction float64 `json:"fraction"`
}

// Sink receives progress events synchronously, in engine order.
type Sink interface {
	Report(ProgressEvent)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ProgressEvent)

// Report implements Sink.
func (f SinkFunc) Report(ev ProgressEvent) { f(ev) }

// EngineEvent is a raw lifecycle notification emitted by an Engine.
type EngineEvent struct {
	Status   string
	Progress float64
}

// ReportFunc is how an Engine hands lifecycle notifications to its caller.
type ReportFunc func(EngineEvent)

// Engines report either the canonical stage names or the longer
// human-readable statuses used by Tesseract front ends.
var statusStages = map[string]Stage{
	"loading-core":                 StageLoadingCore,
	"loading tesseract core":       StageLoadingCore,
	"initializing":                 StageInitializing,
	"initializing tesseract":       StageInitializing,
	"loading-language-data":        StageLoadingLanguage,
	"loading language traineddata": StageLoadingLanguage,
	"recognizing":                  StageRecognizing,
	"recognizing text":             StageRecognizing,
}

// StageForStatus maps an engine status to a known stage.
func StageForStatus(status string) (Stage, bool) {
	stage, ok := statusStages[strings.ToLower(strings.TrimSpace(status))]
	return stage, ok
}

// Bridge turns engine notifications into ProgressEvents for a Sink.
//
// A filtering bridge drops statuses that do not map to a known Stage. A
// non-filtering bridge forwards them with the raw status as the stage name.
// Fractions are clamped to [0,1] and never move backwards within a stage.
type Bridge struct {
	sink     Sink
	filtered bool

	mu       sync.Mutex
	closed   bool
	current  Stage
	fraction float64
	started  bool
}

// NewBridge creates a bridge delivering to sink. A nil sink discards everything.
func NewBridge(sink Sink, filtered bool) *Bridge {
	return &Bridge{sink: sink, filtered: filtered}
}

// Handle processes one engine notification.
func (b *Bridge) Handle(ev EngineEvent) {
	if b == nil || b.sink == nil {
		return
	}

	stage, known := StageForStatus(ev.Status)
	if !known {
		if b.filtered {
			return
		}
		stage = Stage(ev.Status)
	}

	fraction := clampFraction(ev.Progress)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if b.started && stage == b.current && fraction < b.fraction {
		return
	}
	b.started = true
	b.current = stage
	b.fraction = fraction

	b.sink.Report(ProgressEvent{Stage: stage, Fraction: fraction})
}

// Close stops delivery. Later notifications are dropped.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func clampFraction(f float64) float64 {
	switch {
	case f != f: // NaN
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
