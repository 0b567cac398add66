package extract

import (
	"errors"
	"fmt"

	"github.com/doc-summarizer/backend/internal/ocr"
)

var (
	// ErrUnsupportedType is returned for media types outside PDF, DOCX and image/*.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrDecodeFailed means a PDF or DOCX could not be parsed.
	ErrDecodeFailed = errors.New("failed to decode document")
)

// ErrorKind classifies an extraction failure.
type ErrorKind string

const (
	UnsupportedType     ErrorKind = "unsupported_type"
	DecodeFailed        ErrorKind = "decode_failed"
	NoTextRecognized    ErrorKind = "no_text_recognized"
	RecognitionFailed   ErrorKind = "recognition_failed"
	OCRProcessingFailed ErrorKind = "ocr_processing_failed"
)

// Error is the single failure shape returned by the Dispatcher. It keeps the
// decoder's error reachable through errors.Is and errors.As.
type Error struct {
	Kind ErrorKind
	File string
	Err  error
}

func (e *Error) Error() string {
	name := e.File
	if name == "" {
		name = "file"
	}
	return fmt.Sprintf("failed to extract text from %s: %v", name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the ErrorKind carried by err, or "" when err is not an
// extraction failure.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func classifyError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrUnsupportedType):
		return UnsupportedType
	case errors.Is(err, ocr.ErrNoTextRecognized):
		return NoTextRecognized
	case errors.Is(err, ocr.ErrRecognitionFailed):
		return RecognitionFailed
	case errors.Is(err, ocr.ErrProcessingFailed):
		return OCRProcessingFailed
	}
	return DecodeFailed
}
