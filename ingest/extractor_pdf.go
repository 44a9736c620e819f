package ingest

import (
	"bytes"
	"context"
	"strings"

	"github.com/ledongthuc/pdf"

	recall "github.com/altanhq/recall"
)

var _ Extractor = (*PDFExtractor)(nil)

// PDFExtractor extracts text page-by-page, recording the char range each
// page occupies so chunks can carry page anchors.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

func (e *PDFExtractor) Extract(_ context.Context, data []byte, name string) (ExtractedContent, error) {
	if len(data) == 0 {
		return ExtractedContent{}, recall.Errf(recall.KindExtraction, "empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ExtractedContent{}, recall.Wrap(recall.KindExtraction, err, "open pdf")
	}

	var text strings.Builder
	var pages []PageBoundary
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText := pdfPageText(page)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		start := text.Len()
		text.WriteString(pageText)
		pages = append(pages, PageBoundary{Page: i, CharStart: start, CharEnd: text.Len()})
	}

	if text.Len() == 0 && r.NumPage() > 0 {
		return ExtractedContent{}, recall.Errf(recall.KindExtraction, "no extractable text in %s", name)
	}
	return ExtractedContent{
		Text:     strings.TrimSpace(text.String()),
		Pages:    pages,
		Metadata: map[string]any{"page_count": r.NumPage()},
	}, nil
}

// pdfPageText tries the plain-text pass first, then falls back to walking
// the page content rows. Scanned pages with no text layer yield "".
func pdfPageText(page pdf.Page) string {
	if text, err := page.GetPlainText(nil); err == nil {
		if t := strings.TrimSpace(text); t != "" {
			return t
		}
	}
	rows, err := page.GetTextByRow()
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, row := range rows {
		var words []string
		for _, word := range row.Content {
			if w := strings.TrimSpace(word.S); w != "" {
				words = append(words, w)
			}
		}
		if len(words) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(words, " "))
	}
	return strings.TrimSpace(b.String())
}

// resolvePages returns the pages containing charStart and charEnd-1.
// Either may be nil when the offsets fall outside every boundary.
func resolvePages(pages []PageBoundary, charStart, charEnd int) (startPage, endPage *int) {
	for _, p := range pages {
		if startPage == nil && charStart >= p.CharStart && charStart < p.CharEnd {
			n := p.Page
			startPage = &n
		}
		last := charEnd - 1
		if last >= p.CharStart && last < p.CharEnd {
			n := p.Page
			endPage = &n
		}
	}
	if startPage != nil && endPage == nil {
		endPage = startPage
	}
	return startPage, endPage
}
