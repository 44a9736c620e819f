package ingest

import (
	"strings"
	"unicode/utf8"

	recall "github.com/altanhq/recall"
)

// Piece is one chunk of extracted content before persistence. CharStart and
// CharEnd index the original extracted text; Text is always an exact
// substring of it. Page and time anchors are set when the source has them.
type Piece struct {
	Text           string
	CharStart      int
	CharEnd        int
	TokenCount     int
	StartPage      *int
	EndPage        *int
	StartTimeMs    *int64
	EndTimeMs      *int64
	SourceOffsetMs *int64
}

// ChunkerOption configures a chunker implementation.
type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	maxTokens        int
	overlapTokens    int
	counter          recall.TokenCounter
	targetDurationMs int64
}

func defaultChunkerConfig() chunkerConfig {
	return chunkerConfig{
		maxTokens:        512,
		overlapTokens:    50,
		counter:          recall.ApproxTokenCounter{},
		targetDurationMs: 60_000,
	}
}

// WithMaxTokens sets the chunk budget in tokens (approximated as tokens*4 chars).
func WithMaxTokens(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.maxTokens = n }
}

// WithOverlapTokens sets the overlap between consecutive chunks in tokens.
func WithOverlapTokens(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.overlapTokens = n }
}

// WithTokenCounter sets the counter used for per-chunk token counts.
func WithTokenCounter(tc recall.TokenCounter) ChunkerOption {
	return func(c *chunkerConfig) { c.counter = tc }
}

// WithTargetDurationMs sets the temporal chunker's aggregation target.
func WithTargetDurationMs(ms int64) ChunkerOption {
	return func(c *chunkerConfig) { c.targetDurationMs = ms }
}

// separators in priority order: paragraph, line, sentence, word, character.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// TextChunker splits text at the coarsest boundary that fits the budget,
// descending from paragraphs to raw characters, then merges the splits into
// overlapping chunks. Every chunk keeps exact char offsets into the input.
type TextChunker struct {
	maxChars     int
	overlapChars int
	counter      recall.TokenCounter
}

// NewTextChunker creates a TextChunker with the given options.
func NewTextChunker(opts ...ChunkerOption) *TextChunker {
	cfg := defaultChunkerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &TextChunker{
		maxChars:     cfg.maxTokens * 4,
		overlapChars: cfg.overlapTokens * 4,
		counter:      cfg.counter,
	}
}

// Chunk splits text into overlapping pieces. pages, when non-nil, resolves
// page anchors from char offsets. Blank input yields no pieces.
func (c *TextChunker) Chunk(text string, pages []PageBoundary) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var parts []string
	if len(text) <= c.maxChars {
		parts = []string{text}
	} else {
		parts = c.split(text, separators)
	}

	// Recover offsets by locating each (trimmed) part in the original.
	// Overlapping chunks start before the previous one ends, so the search
	// cursor only advances past each chunk's start.
	var pieces []Piece
	searchFrom := 0
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		start := searchFrom
		if idx := strings.Index(text[searchFrom:], part); idx >= 0 {
			start = searchFrom + idx
		}
		end := start + len(part)
		searchFrom = start + 1

		startPage, endPage := resolvePages(pages, start, end)
		pieces = append(pieces, Piece{
			Text:       part,
			CharStart:  start,
			CharEnd:    end,
			TokenCount: c.counter.Count(part),
			StartPage:  startPage,
			EndPage:    endPage,
		})
	}
	return pieces
}

// split divides text at the first separator present, recursing into finer
// separators for oversized fragments, then merges fragments with overlap.
// Fragments keep their separators so concatenations stay exact substrings.
func (c *TextChunker) split(text string, seps []string) []string {
	sep := ""
	var finer []string
	for i, s := range seps {
		if s == "" {
			break
		}
		if strings.Contains(text, s) {
			sep = s
			finer = seps[i+1:]
			break
		}
	}

	var fragments []string
	if sep == "" {
		fragments = hardSplit(text, c.maxChars)
		finer = nil
	} else {
		fragments = splitKeep(text, sep)
	}

	var out, fitting []string
	flush := func() {
		if len(fitting) > 0 {
			out = append(out, c.merge(fitting)...)
			fitting = nil
		}
	}
	for _, f := range fragments {
		if len(f) <= c.maxChars {
			fitting = append(fitting, f)
			continue
		}
		flush()
		if len(finer) == 0 {
			out = append(out, hardSplit(f, c.maxChars)...)
		} else {
			out = append(out, c.split(f, finer)...)
		}
	}
	flush()
	return out
}

// merge greedily packs fragments into chunks up to maxChars, carrying the
// trailing fragments under the overlap budget into the next chunk.
func (c *TextChunker) merge(fragments []string) []string {
	var chunks []string
	var cur []string
	curLen := 0

	for _, f := range fragments {
		if curLen > 0 && curLen+len(f) > c.maxChars {
			chunks = append(chunks, strings.Join(cur, ""))
			for curLen > 0 && (curLen > c.overlapChars || curLen+len(f) > c.maxChars) {
				curLen -= len(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, f)
		curLen += len(f)
	}
	if curLen > 0 {
		chunks = append(chunks, strings.Join(cur, ""))
	}
	return chunks
}

// splitKeep splits text on sep, keeping sep attached to the preceding part.
func splitKeep(text, sep string) []string {
	raw := strings.Split(text, sep)
	parts := make([]string, 0, len(raw))
	for i, p := range raw {
		if i < len(raw)-1 {
			p += sep
		}
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// hardSplit cuts text into maxChars windows without breaking runes.
func hardSplit(text string, maxChars int) []string {
	var parts []string
	for len(text) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxChars
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
