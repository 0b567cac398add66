package extract

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// CaveatScanned is attached to PDF results that look like page scans.
const CaveatScanned = "the PDF appears to be scanned; upload page images for OCR to capture more text"

// PDFQuality describes how much usable text a PDF's text layer carries.
type PDFQuality struct {
	PageCount       int     `json:"pageCount"`
	CharsPerPage    float64 `json:"charsPerPage"`
	PrintableRatio  float64 `json:"printableRatio"`
	HasImageStreams bool    `json:"hasImageStreams"`
}

// NeedsOCR reports whether the document is probably an image-only scan.
func (q *PDFQuality) NeedsOCR() bool {
	return (q.CharsPerPage < 50 && q.HasImageStreams) || q.PrintableRatio < 0.85
}

var disablePDFConfigDir sync.Once

// ProbePDF inspects the document structure with pdfcpu and scores the
// already extracted text against it.
func ProbePDF(data []byte, text string) (*PDFQuality, error) {
	disablePDFConfigDir.Do(api.DisableConfigDir)

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	q := &PDFQuality{
		PageCount:       ctx.PageCount,
		PrintableRatio:  printableRatio(text),
		HasImageStreams: hasImageStreams(ctx),
	}
	if ctx.PageCount > 0 {
		chars := utf8.RuneCountInString(strings.Join(strings.Fields(text), " "))
		q.CharsPerPage = float64(chars) / float64(ctx.PageCount)
	}
	return q, nil
}

func hasImageStreams(ctx *model.Context) bool {
	if ctx.Optimize != nil {
		for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0 {
				return true
			}
		}
	}
	for _, entry := range ctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

func printableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	return (r >= 0xE000 && r <= 0xF8FF) ||
		r == utf8.RuneError ||
		(r < 0x20 && r != '\n' && r != '\r' && r != '\t')
}
