package ingest

import (
	"strings"

	recall "github.com/altanhq/recall"
)

// TemporalChunker groups transcript segments into chunks of roughly equal
// spoken duration. Char offsets are synthetic but monotone so downstream
// ordering checks hold for audio chunks too.
type TemporalChunker struct {
	targetMs int64
	counter  recall.TokenCounter
}

// NewTemporalChunker creates a TemporalChunker. WithTargetDurationMs and
// WithTokenCounter are respected; the default target is one minute.
func NewTemporalChunker(opts ...ChunkerOption) *TemporalChunker {
	cfg := defaultChunkerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &TemporalChunker{targetMs: cfg.targetDurationMs, counter: cfg.counter}
}

// Chunk aggregates consecutive segments until the group spans at least the
// target duration, then emits it. A residual group at the end is always
// emitted, whatever its duration.
func (tc *TemporalChunker) Chunk(segments []recall.TranscriptSegment) []Piece {
	var pieces []Piece
	var group []recall.TranscriptSegment
	charPos := 0

	emit := func() {
		if len(group) == 0 {
			return
		}
		texts := make([]string, 0, len(group))
		for _, s := range group {
			if t := strings.TrimSpace(s.Text); t != "" {
				texts = append(texts, t)
			}
		}
		text := strings.Join(texts, " ")
		if text == "" {
			group = nil
			return
		}
		start := group[0].StartMs
		end := group[len(group)-1].EndMs
		offset := start
		pieces = append(pieces, Piece{
			Text:           text,
			CharStart:      charPos,
			CharEnd:        charPos + len(text),
			TokenCount:     tc.counter.Count(text),
			StartTimeMs:    &start,
			EndTimeMs:      &end,
			SourceOffsetMs: &offset,
		})
		charPos += len(text) + 1
		group = nil
	}

	for _, seg := range segments {
		group = append(group, seg)
		if seg.EndMs-group[0].StartMs >= tc.targetMs {
			emit()
		}
	}
	emit()
	return pieces
}
