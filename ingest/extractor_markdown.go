package ingest

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// MarkdownExtractor parses markdown and emits plain text with formatting
// stripped. The title is the first level-1 heading; without one, the first
// short line of the output serves.
type MarkdownExtractor struct {
	md goldmark.Markdown
}

var _ Extractor = (*MarkdownExtractor)(nil)

func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{md: goldmark.New()}
}

func (e *MarkdownExtractor) Extract(_ context.Context, data []byte, _ string) (ExtractedContent, error) {
	doc := e.md.Parser().Parse(gmtext.NewReader(data))

	var b strings.Builder
	var title string

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading, *ast.Blockquote:
				b.WriteString("\n\n")
			case *ast.ListItem:
				b.WriteString("\n")
			case *ast.List:
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}

		switch v := n.(type) {
		case *ast.Heading:
			if v.Level == 1 && title == "" {
				title = strings.TrimSpace(nodeText(v, data))
			}
		case *ast.Text:
			b.Write(v.Segment.Value(data))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.AutoLink:
			b.Write(v.URL(data))
		case *ast.FencedCodeBlock:
			writeLines(&b, v, data)
			b.WriteString("\n")
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeLines(&b, v, data)
			b.WriteString("\n")
			return ast.WalkSkipChildren, nil
		case *ast.Image:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	text := collapseBlankRuns(b.String())
	if title == "" {
		title = firstLineTitle(text)
	}
	return ExtractedContent{Text: text, Title: title}, nil
}

// nodeText concatenates the text segments under n.
func nodeText(n ast.Node, data []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(data))
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func writeLines(b *strings.Builder, n ast.Node, data []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(data))
	}
}
