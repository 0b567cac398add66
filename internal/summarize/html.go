package summarize

import (
	"bytes"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Summaries are rendered straight into the page, so model output only
// keeps user-generated-content markup.
var sanitizer = bluemonday.UGCPolicy()

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// NormalizeHTML turns a model answer into a safe HTML fragment. Answers
// written in Markdown instead of HTML are rendered first.
func NormalizeHTML(answer string) (string, error) {
	s := StripCodeFence(answer)
	if s == "" {
		return "", nil
	}
	if !strings.HasPrefix(s, "<") {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(s), &buf); err != nil {
			return "", fmt.Errorf("rendering markdown answer: %w", err)
		}
		s = buf.String()
	}
	return strings.TrimSpace(sanitizer.Sanitize(s)), nil
}

// ToMarkdown converts an HTML summary to Markdown for export.
func ToMarkdown(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", ErrEmptyInput
	}
	md, err := htmltomarkdown.ConvertString(sanitizer.Sanitize(html))
	if err != nil {
		return "", fmt.Errorf("converting summary to markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}
