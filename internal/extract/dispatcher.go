package extract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/doc-summarizer/backend/internal/ocr"
)

// File is one uploaded document. The pipeline only borrows it.
type File struct {
	Name      string
	MediaType string
	Data      []byte
	// Languages selects OCR languages for images; more than one runs a
	// combined-language pass. Ignored for PDF and DOCX.
	Languages []string
}

// Result is the outcome of a successful extraction.
type Result struct {
	Text          string   `json:"text"`
	Kind          Kind     `json:"kind"`
	Confidence    float64  `json:"confidence,omitempty"`
	HasConfidence bool     `json:"hasConfidence"`
	PageCount     int      `json:"pageCount,omitempty"`
	Caveats       []string `json:"caveats,omitempty"`
}

// Decoder turns document bytes into text.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (string, error)
}

// ImageDecoder recognizes text in images. *ocr.Recognizer satisfies it.
type ImageDecoder interface {
	Recognize(ctx context.Context, image []byte, languages []string, sink ocr.Sink) (ocr.Outcome, error)
	DecodeImageMulti(ctx context.Context, image []byte, languages []string, sink ocr.Sink) (string, error)
}

// Dispatcher routes each file to exactly one decoder.
type Dispatcher struct {
	pdf          Decoder
	docx         Decoder
	image        ImageDecoder
	probeQuality bool
	logger       *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithPDFDecoder replaces the default ledongthuc-based PDF decoder.
func WithPDFDecoder(dec Decoder) Option {
	return func(d *Dispatcher) { d.pdf = dec }
}

// WithDOCXDecoder replaces the default DOCX decoder.
func WithDOCXDecoder(dec Decoder) Option {
	return func(d *Dispatcher) { d.docx = dec }
}

// WithPDFWorkers sets how many PDF pages are read concurrently.
func WithPDFWorkers(n int) Option {
	return func(d *Dispatcher) { d.pdf = NewPDFDecoder(n) }
}

// WithQualityProbe toggles the scanned-PDF advisory.
func WithQualityProbe(enabled bool) Option {
	return func(d *Dispatcher) { d.probeQuality = enabled }
}

// NewDispatcher creates a Dispatcher sending images to image.
func NewDispatcher(image ImageDecoder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pdf:          NewPDFDecoder(1),
		docx:         NewDOCXDecoder(),
		image:        image,
		probeQuality: true,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Extract returns the text of f. Progress reaches sink only for images.
func (d *Dispatcher) Extract(ctx context.Context, f File, sink ocr.Sink) (string, error) {
	res, err := d.ExtractDetailed(ctx, f, sink)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// ExtractDetailed is Extract returning decoder metadata as well.
func (d *Dispatcher) ExtractDetailed(ctx context.Context, f File, sink ocr.Sink) (*Result, error) {
	kind, err := Classify(f.MediaType)
	if err != nil {
		return nil, d.fail(f, "", err)
	}

	start := time.Now()
	res := &Result{Kind: kind}

	switch kind {
	case KindPDF:
		res.Text, err = d.pdf.Decode(ctx, f.Data)
		if err == nil && d.probeQuality {
			d.probePDF(f, res)
		}
	case KindDOCX:
		res.Text, err = d.docx.Decode(ctx, f.Data)
	case KindImage:
		err = d.recognize(ctx, f, sink, res)
	}
	if err != nil {
		return nil, d.fail(f, kind, err)
	}

	d.logger.Info("text extracted",
		zap.String("file", f.Name),
		zap.String("kind", string(kind)),
		zap.Int("chars", len(res.Text)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (d *Dispatcher) recognize(ctx context.Context, f File, sink ocr.Sink, res *Result) error {
	if d.image == nil {
		return fmt.Errorf("%w: no image decoder configured", ocr.ErrProcessingFailed)
	}
	if len(f.Languages) > 1 {
		text, err := d.image.DecodeImageMulti(ctx, f.Data, f.Languages, sink)
		if err != nil {
			return err
		}
		res.Text = text
		return nil
	}
	out, err := d.image.Recognize(ctx, f.Data, f.Languages, sink)
	if err != nil {
		return err
	}
	res.Text = out.Text
	res.Confidence = out.Confidence
	res.HasConfidence = true
	return nil
}

func (d *Dispatcher) probePDF(f File, res *Result) {
	q, err := ProbePDF(f.Data, res.Text)
	if err != nil {
		d.logger.Debug("pdf quality probe skipped", zap.String("file", f.Name), zap.Error(err))
		return
	}
	res.PageCount = q.PageCount
	if q.NeedsOCR() {
		res.Caveats = append(res.Caveats, CaveatScanned)
	}
}

func (d *Dispatcher) fail(f File, kind Kind, err error) error {
	e := &Error{Kind: classifyError(err), File: f.Name, Err: err}
	d.logger.Warn("extraction failed",
		zap.String("file", f.Name),
		zap.String("mediaType", f.MediaType),
		zap.String("kind", string(kind)),
		zap.String("errorKind", string(e.Kind)),
		zap.Error(err))
	return e
}
