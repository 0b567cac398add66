// Package ocrtest provides a scriptable OCR engine for tests.
package ocrtest

import (
	"context"
	"sync"

	"github.com/doc-summarizer/backend/internal/ocr"
)

// Engine is a fake ocr.Engine. Zero value recognizes nothing.
type Engine struct {
	// Events are reported, in order, at the start of Recognize.
	Events     []ocr.EngineEvent
	Text       string
	Confidence float64

	InitErr      error
	LoadErr      error
	RecognizeErr error
	TerminateErr error

	// InitPanic makes Initialize panic with this value when non-nil.
	InitPanic any
	// RecognizePanic makes Recognize panic with this value when non-nil.
	RecognizePanic any

	// Block, when set, holds Recognize until it is closed. It ignores
	// context cancellation, like a native engine stuck in a call.
	Block chan struct{}
	// Started is closed once Events have been reported, if set.
	Started chan struct{}

	mu           sync.Mutex
	created      int
	terminations int
	languages    []string
	image        []byte
}

// Factory returns an ocr.Factory handing out this engine.
func (e *Engine) Factory() ocr.Factory {
	return func() (ocr.Engine, error) {
		e.mu.Lock()
		e.created++
		e.mu.Unlock()
		return e, nil
	}
}

func (e *Engine) Initialize(ctx context.Context, report ocr.ReportFunc) error {
	if e.InitPanic != nil {
		panic(e.InitPanic)
	}
	return e.InitErr
}

func (e *Engine) LoadLanguages(ctx context.Context, languages []string, report ocr.ReportFunc) error {
	e.mu.Lock()
	e.languages = append([]string(nil), languages...)
	e.mu.Unlock()
	return e.LoadErr
}

func (e *Engine) Recognize(ctx context.Context, image []byte, report ocr.ReportFunc) (ocr.Outcome, error) {
	e.mu.Lock()
	e.image = image
	e.mu.Unlock()

	for _, ev := range e.Events {
		report(ev)
	}
	if e.Started != nil {
		close(e.Started)
	}
	if e.Block != nil {
		<-e.Block
	}
	if e.RecognizePanic != nil {
		panic(e.RecognizePanic)
	}
	if e.RecognizeErr != nil {
		return ocr.Outcome{}, e.RecognizeErr
	}
	return ocr.Outcome{Text: e.Text, Confidence: e.Confidence}, nil
}

func (e *Engine) Terminate() error {
	e.mu.Lock()
	e.terminations++
	e.mu.Unlock()
	return e.TerminateErr
}

// Created reports how many engines the factory handed out.
func (e *Engine) Created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created
}

// Terminations reports how many times Terminate ran.
func (e *Engine) Terminations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminations
}

// Languages returns the languages passed to LoadLanguages.
func (e *Engine) Languages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.languages...)
}

// Recorder is an ocr.Sink that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []ocr.ProgressEvent
}

func (r *Recorder) Report(ev ocr.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []ocr.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ocr.ProgressEvent(nil), r.events...)
}
