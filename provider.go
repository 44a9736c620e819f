package recall

import (
	"context"
	"io"
)

// Provider abstracts the answer-generating LLM backend.
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams token deltas into ch, then returns the final
	// response with usage stats. ch is closed before returning.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// TranscriptSegment is one timed span of a transcription.
type TranscriptSegment struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Transcript is the result of transcribing an audio file.
type Transcript struct {
	Text       string              `json:"text"`
	Segments   []TranscriptSegment `json:"segments"`
	DurationMs int64               `json:"duration_ms"`
	Language   string              `json:"language"`
}

// Transcriber abstracts speech-to-text.
type Transcriber interface {
	// Transcribe converts audio to text with segment timestamps.
	// filename carries the extension the backend uses to sniff the format.
	Transcribe(ctx context.Context, r io.Reader, filename string) (Transcript, error)
	// Name returns the provider name.
	Name() string
}
