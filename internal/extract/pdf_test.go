package extract

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePages struct {
	pages   [][]string
	failOn  int
	delay   func(page int) time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakePages) NumPage() int { return len(f.pages) }

func (f *fakePages) Fragments(page int) ([]string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay != nil {
		time.Sleep(f.delay(page))
	}
	if page == f.failOn {
		return nil, errors.New("bad content stream")
	}
	return f.pages[page-1], nil
}

func decoderFor(src pageSource, workers int) *PDFDecoder {
	d := NewPDFDecoder(workers)
	d.open = func([]byte) (pageSource, error) { return src, nil }
	return d
}

func TestPDFDecoder_JoinsFragmentsAndPages(t *testing.T) {
	src := &fakePages{pages: [][]string{
		{"Hello", "World"},
		{"Page", "two"},
	}}

	text, err := decoderFor(src, 1).Decode(context.Background(), []byte("%PDF"))

	require.NoError(t, err)
	assert.Equal(t, "Hello World\n\nPage two", text)
}

func TestPDFDecoder_EmptyPagesKeepSeparators(t *testing.T) {
	src := &fakePages{pages: [][]string{
		{"First"},
		{},
		{"Third"},
	}}

	text, err := decoderFor(src, 1).Decode(context.Background(), []byte("%PDF"))

	require.NoError(t, err)
	assert.Equal(t, "First\n\n\n\nThird", text)
}

func TestPDFDecoder_TrimsWholeDocument(t *testing.T) {
	src := &fakePages{pages: [][]string{
		{},
		{"  body  "},
		{},
	}}

	text, err := decoderFor(src, 1).Decode(context.Background(), []byte("%PDF"))

	require.NoError(t, err)
	assert.Equal(t, "body", text)
}

func TestPDFDecoder_NoPages(t *testing.T) {
	text, err := decoderFor(&fakePages{}, 1).Decode(context.Background(), []byte("%PDF"))

	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestPDFDecoder_ParallelPreservesPageOrder(t *testing.T) {
	const n = 12
	src := &fakePages{
		delay: func(page int) time.Duration {
			// Early pages finish last.
			return time.Duration(n-page) * 2 * time.Millisecond
		},
	}
	var want []string
	for i := 1; i <= n; i++ {
		src.pages = append(src.pages, []string{"p" + strconv.Itoa(i)})
		want = append(want, "p"+strconv.Itoa(i))
	}

	pages, err := decoderFor(src, 4).DecodePages(context.Background(), []byte("%PDF"))

	require.NoError(t, err)
	assert.Equal(t, want, pages)
	assert.LessOrEqual(t, src.maxSeen.Load(), int32(4))
}

func TestPDFDecoder_PageFailure(t *testing.T) {
	src := &fakePages{pages: [][]string{{"a"}, {"b"}, {"c"}}, failOn: 2}

	_, err := decoderFor(src, 2).Decode(context.Background(), []byte("%PDF"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecodeFailed)
	assert.Contains(t, err.Error(), "page 2")
	assert.Contains(t, err.Error(), "bad content stream")
}

func TestPDFDecoder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := decoderFor(&fakePages{pages: [][]string{{"a"}}}, 1).Decode(ctx, []byte("%PDF"))

	assert.ErrorIs(t, err, ErrDecodeFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPDFDecoder_MalformedBytes(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("this is not a pdf at all"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewPDFDecoder(1).Decode(context.Background(), data)
			assert.ErrorIs(t, err, ErrDecodeFailed)
		})
	}
}

func TestPDFDecoder_RealDocument(t *testing.T) {
	raw := buildTextPDF("Hello World", "", "Second page")

	text, err := NewPDFDecoder(2).Decode(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, "Hello World\n\n\n\nSecond page", text)
}

func TestGroupRuns(t *testing.T) {
	glyph := func(s string, x, w float64) pdf.Text {
		return pdf.Text{Font: "Helvetica", FontSize: 12, X: x, Y: 700, W: w, S: s}
	}

	texts := []pdf.Text{
		glyph("H", 72, 8), glyph("i", 80, 3),
		// kerning gap well beyond the tolerance
		glyph("t", 100, 3), glyph("o", 103, 6),
		// new line
		{Font: "Helvetica", FontSize: 12, X: 72, Y: 680, W: 6, S: "n"},
		// font change on the same line
		{Font: "Helvetica-Bold", FontSize: 12, X: 78, Y: 680, W: 6, S: "B"},
	}

	assert.Equal(t, []string{"Hi", "to", "n", "B"}, groupRuns(texts))
	assert.Nil(t, groupRuns(nil))
}

// buildTextPDF writes a minimal PDF with one Helvetica text line per page
// and correct xref offsets. An empty string yields a page with no text.
func buildTextPDF(pages ...string) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	n := len(pages)
	// 1 catalog, 2 pages, 3 font, then a page and a content object per page.
	total := 3 + 2*n
	offsets := make([]int, total+1)

	kids := make([]string, n)
	for i := range pages {
		kids[i] = strconv.Itoa(4+2*i) + " 0 R"
	}

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [" + strings.Join(kids, " ") + "] /Count " + strconv.Itoa(n) + " >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	for i, text := range pages {
		pageObj, contentObj := 4+2*i, 5+2*i

		offsets[pageObj] = b.Len()
		b.WriteString(strconv.Itoa(pageObj) + " 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents " +
			strconv.Itoa(contentObj) + " 0 R /Resources << /Font << /F1 3 0 R >> >> >>\nendobj\n")

		stream := ""
		if text != "" {
			escaped := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(text)
			stream = "BT\n/F1 12 Tf\n72 720 Td\n(" + escaped + ") Tj\nET"
		}
		offsets[contentObj] = b.Len()
		b.WriteString(strconv.Itoa(contentObj) + " 0 obj\n<< /Length " + strconv.Itoa(len(stream)) + " >>\nstream\n")
		b.WriteString(stream)
		b.WriteString("\nendstream\nendobj\n")
	}

	xref := b.Len()
	b.WriteString("xref\n0 " + strconv.Itoa(total+1) + "\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= total; i++ {
		off := strconv.Itoa(offsets[i])
		b.WriteString(strings.Repeat("0", 10-len(off)) + off + " 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size " + strconv.Itoa(total+1) + " /Root 1 0 R >>\nstartxref\n")
	b.WriteString(strconv.Itoa(xref))
	b.WriteString("\n%%EOF\n")

	return []byte(b.String())
}
