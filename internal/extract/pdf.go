package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// pageSeparator sits between consecutive pages, empty ones included.
const pageSeparator = "\n\n"

// pageSource yields the text fragments of each page, in content order.
type pageSource interface {
	NumPage() int
	Fragments(page int) ([]string, error)
}

// PDFDecoder extracts the embedded text layer of a PDF.
type PDFDecoder struct {
	workers int
	open    func(data []byte) (pageSource, error)
}

// NewPDFDecoder returns a decoder reading up to workers pages at once.
func NewPDFDecoder(workers int) *PDFDecoder {
	if workers < 1 {
		workers = 1
	}
	return &PDFDecoder{workers: workers, open: openPDF}
}

// Decode returns all pages joined by a blank line, trimmed as a whole.
func (d *PDFDecoder) Decode(ctx context.Context, data []byte) (string, error) {
	pages, err := d.DecodePages(ctx, data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(pages, pageSeparator)), nil
}

// DecodePages returns one string per page; fragments are joined by a single space.
func (d *PDFDecoder) DecodePages(ctx context.Context, data []byte) ([]string, error) {
	src, err := d.open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %w", ErrDecodeFailed, err)
	}
	return decodePages(ctx, src, d.workers)
}

func decodePages(ctx context.Context, src pageSource, workers int) ([]string, error) {
	n := src.NumPage()
	pages := make([]string, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 1; i <= n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frags, err := src.Fragments(i)
			if err != nil {
				return fmt.Errorf("%w: page %d: %w", ErrDecodeFailed, i, err)
			}
			pages[i-1] = strings.Join(frags, " ")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if !errors.Is(err, ErrDecodeFailed) {
			err = fmt.Errorf("%w: %w", ErrDecodeFailed, err)
		}
		return nil, err
	}
	return pages, nil
}

// ledongthucSource reads pages with github.com/ledongthuc/pdf. The reader
// is not safe for concurrent page access, so content reads are serialized.
type ledongthucSource struct {
	mu sync.Mutex
	r  *pdf.Reader
}

func openPDF(data []byte) (src pageSource, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return &ledongthucSource{r: r}, nil
}

func (s *ledongthucSource) NumPage() int {
	return s.r.NumPage()
}

func (s *ledongthucSource) Fragments(page int) ([]string, error) {
	texts, err := s.pageTexts(page)
	if err != nil {
		return nil, err
	}
	return groupRuns(texts), nil
}

func (s *ledongthucSource) pageTexts(page int) (texts []pdf.Text, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed page content: %v", p)
		}
	}()

	p := s.r.Page(page)
	if p.V.IsNull() {
		return nil, nil
	}
	return p.Content().Text, nil
}

// groupRuns rebuilds text runs from per-glyph output. Glyphs sharing font,
// size and baseline whose advance meets the next glyph form one fragment.
func groupRuns(texts []pdf.Text) []string {
	var (
		runs []string
		cur  strings.Builder
		prev pdf.Text
		have bool
	)
	flush := func() {
		if cur.Len() > 0 {
			runs = append(runs, cur.String())
		}
		cur.Reset()
	}
	for _, t := range texts {
		if have && !continuesRun(prev, t) {
			flush()
		}
		cur.WriteString(t.S)
		prev = t
		have = true
	}
	flush()
	return runs
}

func continuesRun(prev, next pdf.Text) bool {
	if prev.Font != next.Font || prev.FontSize != next.FontSize {
		return false
	}
	if math.Abs(prev.Y-next.Y) > 0.5 {
		return false
	}
	tolerance := math.Max(math.Abs(prev.FontSize)*0.2, 0.5)
	gap := next.X - (prev.X + prev.W)
	return math.Abs(gap) <= tolerance
}
