package ocr_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/doc-summarizer/backend/internal/ocr"
	"github.com/doc-summarizer/backend/internal/ocr/ocrtest"
)

func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func renderPNG(t *testing.T, text string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 240, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if text != "" {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.Black,
			Face: basicfont.Face7x13,
			Dot:  fixed.P(10, 45),
		}
		d.DrawString(text)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTesseractEngine_Recognize(t *testing.T) {
	ensureTesseractAvailable(t)

	r := ocr.NewRecognizer(ocr.NewTesseractFactory())
	rec := &ocrtest.Recorder{}

	text, err := r.DecodeImage(context.Background(), renderPNG(t, "Hello PDF"), nil, rec)

	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(text), "hello")

	var stages []ocr.Stage
	for _, ev := range rec.Events() {
		if len(stages) == 0 || stages[len(stages)-1] != ev.Stage {
			stages = append(stages, ev.Stage)
		}
	}
	assert.Equal(t, []ocr.Stage{
		ocr.StageLoadingCore,
		ocr.StageInitializing,
		ocr.StageLoadingLanguage,
		ocr.StageRecognizing,
	}, stages)
}

func TestTesseractEngine_BlankImage(t *testing.T) {
	ensureTesseractAvailable(t)

	r := ocr.NewRecognizer(ocr.NewTesseractFactory())

	_, err := r.DecodeImage(context.Background(), renderPNG(t, ""), nil, nil)

	assert.ErrorIs(t, err, ocr.ErrNoTextRecognized)
}

func TestTesseractEngine_TerminateBeforeInitialize(t *testing.T) {
	engine, err := ocr.NewTesseractFactory()()
	require.NoError(t, err)
	assert.NoError(t, engine.Terminate())
}
