package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine is an Engine backed by a gosseract client. The native
// API has no progress callback, so each stage reports 0 on entry and 1 on exit.
type TesseractEngine struct {
	newClient func() *gosseract.Client
	client    *gosseract.Client
}

// NewTesseractFactory returns a Factory producing Tesseract engines.
func NewTesseractFactory() Factory {
	return func() (Engine, error) {
		return &TesseractEngine{newClient: gosseract.NewClient}, nil
	}
}

func (e *TesseractEngine) Initialize(ctx context.Context, report ReportFunc) error {
	report(EngineEvent{Status: string(StageLoadingCore), Progress: 0})
	if err := ctx.Err(); err != nil {
		return err
	}
	e.client = e.newClient()
	report(EngineEvent{Status: string(StageLoadingCore), Progress: 1})

	report(EngineEvent{Status: string(StageInitializing), Progress: 0})
	if err := e.client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return fmt.Errorf("set page segmentation mode: %w", err)
	}
	report(EngineEvent{Status: string(StageInitializing), Progress: 1})
	return nil
}

func (e *TesseractEngine) LoadLanguages(ctx context.Context, languages []string, report ReportFunc) error {
	report(EngineEvent{Status: string(StageLoadingLanguage), Progress: 0})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.client.SetLanguage(languages...); err != nil {
		return fmt.Errorf("set languages %s: %w", JoinLanguages(languages), err)
	}
	report(EngineEvent{Status: string(StageLoadingLanguage), Progress: 1})
	return nil
}

func (e *TesseractEngine) Recognize(ctx context.Context, image []byte, report ReportFunc) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if err := e.client.SetImageFromBytes(image); err != nil {
		return Outcome{}, fmt.Errorf("set image: %w", err)
	}

	report(EngineEvent{Status: string(StageRecognizing), Progress: 0})
	text, err := e.client.Text()
	if err != nil {
		return Outcome{}, fmt.Errorf("recognize text: %w", err)
	}
	confidence := e.meanConfidence()
	report(EngineEvent{Status: string(StageRecognizing), Progress: 1})

	return Outcome{Text: text, Confidence: confidence}, nil
}

// Terminate releases the native client. Safe to call before Initialize.
func (e *TesseractEngine) Terminate() error {
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// meanConfidence averages word confidences on Tesseract's 0-100 scale.
func (e *TesseractEngine) meanConfidence() float64 {
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes))
}
