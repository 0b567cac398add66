// Package extract turns uploaded documents into plain text. A Dispatcher
// classifies the declared media type and routes the bytes to exactly one
// decoder: PDF page text, DOCX raw text, or OCR for images.
package extract

import (
	"fmt"
	"mime"
	"strings"
)

const (
	MediaTypePDF  = "application/pdf"
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	imagePrefix   = "image/"
)

// Kind is the closed set of document families the pipeline can decode.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindDOCX  Kind = "docx"
	KindImage Kind = "image"
)

// Classify maps a declared media type to a Kind. Parameters such as
// charset are ignored; the bytes are never inspected.
func Classify(mediaType string) (Kind, error) {
	essence := normalizeMediaType(mediaType)
	switch {
	case essence == MediaTypePDF:
		return KindPDF, nil
	case essence == MediaTypeDOCX:
		return KindDOCX, nil
	case strings.HasPrefix(essence, imagePrefix):
		return KindImage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mediaType)
}

func normalizeMediaType(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		return parsed
	}
	return strings.ToLower(mediaType)
}
