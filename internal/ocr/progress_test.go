package ocr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/doc-summarizer/backend/internal/ocr"
	"github.com/doc-summarizer/backend/internal/ocr/ocrtest"
)

func TestBridge_FiltersUnknownStatuses(t *testing.T) {
	rec := &ocrtest.Recorder{}
	b := ocr.NewBridge(rec, true)

	b.Handle(ocr.EngineEvent{Status: "initializing", Progress: 0})
	b.Handle(ocr.EngineEvent{Status: "initializing api", Progress: 0.5})
	b.Handle(ocr.EngineEvent{Status: "recognizing", Progress: 0.5})

	assert.Equal(t, []ocr.ProgressEvent{
		{Stage: ocr.StageInitializing, Fraction: 0},
		{Stage: ocr.StageRecognizing, Fraction: 0.5},
	}, rec.Events())
}

func TestBridge_UnfilteredForwardsEverything(t *testing.T) {
	rec := &ocrtest.Recorder{}
	b := ocr.NewBridge(rec, false)

	b.Handle(ocr.EngineEvent{Status: "initializing api", Progress: 1})
	b.Handle(ocr.EngineEvent{Status: "recognizing text", Progress: 0.25})

	assert.Equal(t, []ocr.ProgressEvent{
		{Stage: "initializing api", Fraction: 1},
		{Stage: ocr.StageRecognizing, Fraction: 0.25},
	}, rec.Events())
}

func TestBridge_LongStatusNames(t *testing.T) {
	tests := []struct {
		status string
		want   ocr.Stage
	}{
		{"loading tesseract core", ocr.StageLoadingCore},
		{"initializing tesseract", ocr.StageInitializing},
		{"loading language traineddata", ocr.StageLoadingLanguage},
		{"recognizing text", ocr.StageRecognizing},
		{"Recognizing", ocr.StageRecognizing},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got, ok := ocr.StageForStatus(tt.status)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := ocr.StageForStatus("initializing api")
	assert.False(t, ok)
}

func TestBridge_FractionsClampedAndMonotonic(t *testing.T) {
	rec := &ocrtest.Recorder{}
	b := ocr.NewBridge(rec, true)

	b.Handle(ocr.EngineEvent{Status: "recognizing", Progress: -0.2})
	b.Handle(ocr.EngineEvent{Status: "recognizing", Progress: 0.6})
	b.Handle(ocr.EngineEvent{Status: "recognizing", Progress: 0.4})
	b.Handle(ocr.EngineEvent{Status: "recognizing", Progress: 1.7})

	assert.Equal(t, []ocr.ProgressEvent{
		{Stage: ocr.StageRecognizing, Fraction: 0},
		{Stage: ocr.StageRecognizing, Fraction: 0.6},
		{Stage: ocr.StageRecognizing, Fraction: 1},
	}, rec.Events())
}

func TestBridge_StageChangeMayReset(t *testing.T) {
	rec := &ocrtest.Recorder{}
	b := ocr.NewBridge(rec, true)

	b.Handle(ocr.EngineEvent{Status: "initializing", Progress: 1})
	b.Handle(ocr.EngineEvent{Status: "loading-language-data", Progress: 0})

	assert.Len(t, rec.Events(), 2)
}

func TestBridge_ClosedDropsEvents(t *testing.T) {
	rec := &ocrtest.Recorder{}
	b := ocr.NewBridge(rec, true)

	b.Handle(ocr.EngineEvent{Status: "recognizing", Progress: 0.1})
	b.Close()
	b.Handle(ocr.EngineEvent{Status: "recognizing", Progress: 0.9})

	assert.Len(t, rec.Events(), 1)
}

func TestBridge_NilSink(t *testing.T) {
	b := ocr.NewBridge(nil, true)
	assert.NotPanics(t, func() {
		b.Handle(ocr.EngineEvent{Status: "recognizing", Progress: 0.5})
	})
}
