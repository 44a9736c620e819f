package ingest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-shiori/dom"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	recall "github.com/altanhq/recall"
)

const (
	webFetchTimeout = 30 * time.Second
	webFetchLimit   = 4 << 20 // 4MB
	webUserAgent    = "Mozilla/5.0 (compatible; RecallBot/1.0)"
)

// Tags that never hold article content.
var unwantedTags = []string{
	"script", "style", "nav", "header", "footer", "aside",
	"form", "iframe", "noscript", "button", "svg",
}

// Class or id values marking navigation and ad furniture.
var junkClassRe = regexp.MustCompile(`(?i)(nav|menu|sidebar|footer|header|ad|advertisement|social|share|comment)`)

// WebExtractor fetches a page and reduces it to readable article text.
// Readability does the heavy lifting; a manual DOM pass handles pages it
// cannot parse and supplies the title and metadata chain either way.
type WebExtractor struct {
	client *http.Client
}

var _ Extractor = (*WebExtractor)(nil)

func NewWebExtractor() *WebExtractor {
	return &WebExtractor{client: &http.Client{Timeout: webFetchTimeout}}
}

// Fetch downloads rawURL. Redirects are followed; a non-2xx final status is
// an extraction error.
func (e *WebExtractor) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, recall.Wrap(recall.KindValidation, err, "invalid URL")
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, recall.Wrap(recall.KindExtraction, err, "fetch "+rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, recall.Errf(recall.KindExtraction, "fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchLimit))
	if err != nil {
		return nil, recall.Wrap(recall.KindExtraction, err, "read "+rawURL)
	}
	return body, nil
}

func (e *WebExtractor) Extract(_ context.Context, data []byte, name string) (ExtractedContent, error) {
	doc, err := dom.Parse(bytes.NewReader(data))
	if err != nil {
		return ExtractedContent{}, recall.Wrap(recall.KindExtraction, err, "parse html")
	}

	title := pageTitle(doc)
	publishedAt := publishedTime(doc)
	meta := map[string]any{
		"fetched_at": time.Now().UTC().Format(time.RFC3339),
	}
	if desc := metaContent(doc, "og:description", "description"); desc != "" {
		meta["description"] = desc
	}
	if site := metaContent(doc, "og:site_name"); site != "" {
		meta["site_name"] = site
	}

	text := ""
	pageURL, _ := url.Parse(name)
	if article, err := readability.FromReader(bytes.NewReader(data), pageURL); err == nil {
		text = cleanLines(article.TextContent)
		if title == "" {
			title = article.Title
		}
		if publishedAt == nil && article.PublishedTime != nil {
			publishedAt = article.PublishedTime
		}
	}
	if text == "" {
		text = cleanLines(extractMainText(doc))
	}
	if text == "" {
		return ExtractedContent{}, recall.Errf(recall.KindExtraction, "no readable content at %s", name)
	}

	return ExtractedContent{
		Text:        text,
		Title:       title,
		Metadata:    meta,
		PublishedAt: publishedAt,
	}, nil
}

// pageTitle resolves the title chain: <title>, og:title, first <h1>.
func pageTitle(doc *html.Node) string {
	for _, n := range dom.GetAllNodesWithTag(doc, "title") {
		if t := strings.TrimSpace(dom.TextContent(n)); t != "" {
			return t
		}
	}
	if t := metaContent(doc, "og:title"); t != "" {
		return t
	}
	for _, n := range dom.GetAllNodesWithTag(doc, "h1") {
		if t := strings.TrimSpace(dom.TextContent(n)); t != "" {
			return t
		}
	}
	return ""
}

// metaContent returns the content of the first matching <meta> by property
// or name, in the order the keys are given.
func metaContent(doc *html.Node, keys ...string) string {
	metas := dom.GetAllNodesWithTag(doc, "meta")
	for _, key := range keys {
		for _, n := range metas {
			if dom.GetAttribute(n, "property") == key || dom.GetAttribute(n, "name") == key {
				if c := strings.TrimSpace(dom.GetAttribute(n, "content")); c != "" {
					return c
				}
			}
		}
	}
	return ""
}

func publishedTime(doc *html.Node) *time.Time {
	raw := metaContent(doc, "article:published_time")
	if raw == "" {
		return nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	return &t
}

// extractMainText is the manual fallback: strip furniture, find the content
// region, and render its text with block-level line breaks.
func extractMainText(doc *html.Node) string {
	for _, n := range dom.GetAllNodesWithTag(doc, unwantedTags...) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	for _, n := range dom.GetElementsByTagName(doc, "*") {
		marker := dom.GetAttribute(n, "class") + " " + dom.GetAttribute(n, "id")
		if strings.TrimSpace(marker) != "" && junkClassRe.MatchString(marker) && n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	region := contentRegion(doc)
	if region == nil {
		return ""
	}
	var b strings.Builder
	renderText(region, &b)
	return b.String()
}

// contentRegion picks the most article-like element: <article>, <main>,
// [role=main], .content, #content, then <body>.
func contentRegion(doc *html.Node) *html.Node {
	for _, tag := range []string{"article", "main"} {
		if nodes := dom.GetAllNodesWithTag(doc, tag); len(nodes) > 0 {
			return nodes[0]
		}
	}
	for _, n := range dom.GetElementsByTagName(doc, "*") {
		if dom.GetAttribute(n, "role") == "main" {
			return n
		}
	}
	for _, n := range dom.GetElementsByTagName(doc, "*") {
		if dom.GetAttribute(n, "id") == "content" || hasClass(n, "content") {
			return n
		}
	}
	if bodies := dom.GetAllNodesWithTag(doc, "body"); len(bodies) > 0 {
		return bodies[0]
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(dom.GetAttribute(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "ul": true, "ol": true, "blockquote": true, "pre": true,
	"table": true, "tr": true, "br": true,
}

func renderText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	isBlock := n.Type == html.ElementNode && blockTags[n.Data]
	if isBlock {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(c, b)
	}
	if isBlock {
		b.WriteByte('\n')
	}
}

// cleanLines drops lines too short to carry content and collapses blank runs.
func cleanLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if len(line) < 3 {
			kept = append(kept, "")
			continue
		}
		kept = append(kept, line)
	}
	return collapseBlankRuns(strings.Join(kept, "\n"))
}

// hostTitle is the last-resort title: the page host.
func hostTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
