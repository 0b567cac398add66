package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recognizer runs OCR on images. Every call builds its own engine and
// terminates it exactly once, including when the caller gives up early.
// An engine slot is held until termination, so abandoned engines still
// count against the limit set by WithMaxEngines.
type Recognizer struct {
	factory   Factory
	logger    *zap.Logger
	threshold float64
	languages []string

	slots chan struct{}
	live  sync.WaitGroup
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithLogger sets the logger used for confidence warnings and teardown failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recognizer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithConfidenceThreshold overrides DefaultConfidenceThreshold.
func WithConfidenceThreshold(t float64) Option {
	return func(r *Recognizer) { r.threshold = t }
}

// WithDefaultLanguages sets the languages used when a call names none.
func WithDefaultLanguages(languages ...string) Option {
	return func(r *Recognizer) {
		r.languages = normalizeLanguages(languages, nil)
	}
}

// WithMaxEngines bounds how many engines may be alive at once. Zero or
// less means no bound.
func WithMaxEngines(n int) Option {
	return func(r *Recognizer) {
		r.slots = nil
		if n > 0 {
			r.slots = make(chan struct{}, n)
		}
	}
}

// NewRecognizer creates a Recognizer building engines with factory.
func NewRecognizer(factory Factory, opts ...Option) *Recognizer {
	r := &Recognizer{
		factory:   factory,
		logger:    zap.NewNop(),
		threshold: DefaultConfidenceThreshold,
		languages: []string{DefaultLanguage},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DecodeImage returns the trimmed text recognized in image.
// Only the four known stages reach sink.
func (r *Recognizer) DecodeImage(ctx context.Context, image []byte, languages []string, sink Sink) (string, error) {
	out, err := r.Recognize(ctx, image, languages, sink)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// Recognize is DecodeImage returning the confidence as well.
func (r *Recognizer) Recognize(ctx context.Context, image []byte, languages []string, sink Sink) (Outcome, error) {
	return r.run(ctx, image, languages, sink, true)
}

// DecodeImageMulti recognizes image with all languages in one engine pass.
// Every engine status is forwarded to sink, known or not.
func (r *Recognizer) DecodeImageMulti(ctx context.Context, image []byte, languages []string, sink Sink) (string, error) {
	out, err := r.run(ctx, image, languages, sink, false)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

type attempt struct {
	outcome Outcome
	err     error
}

func (r *Recognizer) run(ctx context.Context, image []byte, languages []string, sink Sink, single bool) (Outcome, error) {
	languages = normalizeLanguages(languages, r.languages)
	bridge := NewBridge(sink, single)
	start := time.Now()

	if err := r.acquire(ctx); err != nil {
		bridge.Close()
		return Outcome{}, fmt.Errorf("%w: waiting for an engine: %w", ErrProcessingFailed, err)
	}

	done := make(chan attempt, 1)
	r.live.Add(1)
	go func() {
		defer r.live.Done()
		defer r.release()
		done <- r.drive(ctx, image, languages, bridge)
	}()

	var res attempt
	select {
	case res = <-done:
	case <-ctx.Done():
		// The engine goroutine still terminates the engine on its own.
		bridge.Close()
		r.logger.Warn("OCR call abandoned",
			zap.String("languages", JoinLanguages(languages)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(ctx.Err()))
		return Outcome{}, fmt.Errorf("%w: %w", ErrProcessingFailed, ctx.Err())
	}
	bridge.Close()

	if res.err != nil {
		return Outcome{}, res.err
	}

	text := strings.TrimSpace(res.outcome.Text)
	if text == "" {
		if single {
			return Outcome{}, fmt.Errorf("%w: the image may be blurry, low quality, or contain no text", ErrNoTextRecognized)
		}
		return Outcome{}, ErrNoTextRecognized
	}

	if res.outcome.Confidence < r.threshold {
		r.logger.Warn("low OCR confidence",
			zap.Float64("confidence", res.outcome.Confidence),
			zap.Float64("threshold", r.threshold),
			zap.String("languages", JoinLanguages(languages)))
	}

	r.logger.Debug("OCR complete",
		zap.Int("chars", len(text)),
		zap.Float64("confidence", res.outcome.Confidence),
		zap.Duration("elapsed", time.Since(start)))

	return Outcome{Text: text, Confidence: res.outcome.Confidence}, nil
}

func (r *Recognizer) acquire(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recognizer) release() {
	if r.slots != nil {
		<-r.slots
	}
}

// Wait blocks until every engine, abandoned ones included, has been
// terminated, or ctx ends.
func (r *Recognizer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drive owns the engine for the whole call.
func (r *Recognizer) drive(ctx context.Context, image []byte, languages []string, bridge *Bridge) (res attempt) {
	if r.factory == nil {
		return attempt{err: fmt.Errorf("%w: no engine configured", ErrProcessingFailed)}
	}
	engine, err := r.factory()
	if err != nil {
		return attempt{err: fmt.Errorf("%w: create engine: %w", ErrProcessingFailed, err)}
	}

	state := StateCreated
	defer r.terminate(engine, &state)
	defer func() {
		if p := recover(); p != nil {
			res = r.fail(&state, fmt.Errorf("engine panic in %s: %v", state, p))
		}
	}()

	report := bridge.Handle

	state = StateInitializing
	if err := engine.Initialize(ctx, report); err != nil {
		return r.fail(&state, err)
	}

	state = StateLanguageLoading
	if err := engine.LoadLanguages(ctx, languages, report); err != nil {
		return r.fail(&state, err)
	}

	state = StateRecognizing
	out, err := engine.Recognize(ctx, image, report)
	if err != nil {
		return r.fail(&state, err)
	}

	state = StateCompleted
	return attempt{outcome: out}
}

func (r *Recognizer) fail(state *State, err error) attempt {
	failedIn := *state
	*state = StateFailed
	if failedIn == StateRecognizing {
		return attempt{err: fmt.Errorf("%w: %w", ErrRecognitionFailed, err)}
	}
	return attempt{err: fmt.Errorf("%w: %w", ErrProcessingFailed, err)}
}

func (r *Recognizer) terminate(engine Engine, state *State) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("OCR engine panicked during termination", zap.Any("panic", p))
		}
	}()
	if err := engine.Terminate(); err != nil {
		r.logger.Error("failed to terminate OCR engine",
			zap.Stringer("state", *state),
			zap.Error(err))
	}
	*state = StateTerminated
}
