// Package ingest turns raw source material (text, markdown, PDF, web pages,
// audio) into embedded, indexed chunks through a staged pipeline.
package ingest

import (
	"context"
	"strings"
	"time"

	recall "github.com/altanhq/recall"
)

// PageBoundary maps one source page onto a half-open char range
// [CharStart, CharEnd) of the extracted text.
type PageBoundary struct {
	Page      int
	CharStart int
	CharEnd   int
}

// ExtractedContent is the normalized output of an Extractor.
type ExtractedContent struct {
	Text        string
	Title       string
	Pages       []PageBoundary
	Segments    []recall.TranscriptSegment
	Metadata    map[string]any
	PublishedAt *time.Time
}

// Extractor converts one source format into ExtractedContent.
// name carries the filename or URL for format sniffing and titles.
type Extractor interface {
	Extract(ctx context.Context, data []byte, name string) (ExtractedContent, error)
}

// --- Plain text ---

// TextExtractor passes text through unchanged. The title is the first line
// when it is short enough to plausibly be one.
type TextExtractor struct{}

var _ Extractor = (*TextExtractor)(nil)

func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

func (e *TextExtractor) Extract(_ context.Context, data []byte, _ string) (ExtractedContent, error) {
	text := string(data)
	return ExtractedContent{Text: text, Title: firstLineTitle(text)}, nil
}

// firstLineTitle returns the first non-empty line if it is under 200 chars.
func firstLineTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) < 200 {
			return line
		}
		return ""
	}
	return ""
}

// collapseBlankRuns trims trailing space from each line and reduces runs of
// 3+ newlines to a single blank line.
func collapseBlankRuns(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
