package ingest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	recall "github.com/altanhq/recall"
)

// Audio formats the transcription backend accepts.
var supportedAudioExts = map[string]bool{
	".mp3": true, ".mp4": true, ".mpeg": true, ".mpga": true,
	".m4a": true, ".wav": true, ".webm": true, ".flac": true, ".ogg": true,
}

// SupportedAudioExt reports whether the file extension is transcribable.
func SupportedAudioExt(name string) bool {
	return supportedAudioExts[strings.ToLower(filepath.Ext(name))]
}

// AudioExtractor transcribes audio through a Transcriber and carries the
// segment timeline through for temporal chunking.
type AudioExtractor struct {
	transcriber recall.Transcriber
}

var _ Extractor = (*AudioExtractor)(nil)

func NewAudioExtractor(t recall.Transcriber) *AudioExtractor {
	return &AudioExtractor{transcriber: t}
}

func (e *AudioExtractor) Extract(ctx context.Context, data []byte, name string) (ExtractedContent, error) {
	if !SupportedAudioExt(name) {
		return ExtractedContent{}, recall.Errf(recall.KindValidation, "unsupported audio format %q", filepath.Ext(name))
	}
	tr, err := e.transcriber.Transcribe(ctx, bytes.NewReader(data), name)
	if err != nil {
		return ExtractedContent{}, recall.Wrap(recall.KindTranscription, err, "transcribe "+name)
	}
	return ExtractedContent{
		Text:     strings.TrimSpace(tr.Text),
		Segments: tr.Segments,
		Metadata: map[string]any{
			"duration_ms":   tr.DurationMs,
			"language":      tr.Language,
			"segment_count": len(tr.Segments),
		},
	}, nil
}
