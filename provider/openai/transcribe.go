package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	recall "github.com/altanhq/recall"
)

// Transcriber implements recall.Transcriber against the OpenAI audio
// transcriptions API, requesting verbose_json for segment timestamps.
type Transcriber struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

var _ recall.Transcriber = (*Transcriber)(nil)

// TranscriberOption configures a Transcriber.
type TranscriberOption func(*Transcriber)

// WithTranscriberBaseURL overrides the API base.
func WithTranscriberBaseURL(u string) TranscriberOption {
	return func(t *Transcriber) { t.baseURL = u }
}

// WithTranscriberHTTPClient overrides the HTTP client.
func WithTranscriberHTTPClient(c *http.Client) TranscriberOption {
	return func(t *Transcriber) { t.client = c }
}

// NewTranscriber creates a transcription client (model e.g. "whisper-1").
func NewTranscriber(apiKey, model string, opts ...TranscriberOption) *Transcriber {
	t := &Transcriber{
		apiKey:  apiKey,
		model:   model,
		baseURL: DefaultBaseURL,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transcriber) Name() string { return "openai" }

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the audio and returns the transcript with segment
// timestamps converted from seconds to milliseconds.
func (t *Transcriber) Transcribe(ctx context.Context, r io.Reader, filename string) (recall.Transcript, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return recall.Transcript{}, &recall.ErrLLM{Provider: "openai", Message: fmt.Sprintf("build form: %v", err)}
	}
	if _, err := io.Copy(fw, r); err != nil {
		return recall.Transcript{}, &recall.ErrLLM{Provider: "openai", Message: fmt.Sprintf("copy audio: %v", err)}
	}
	_ = mw.WriteField("model", t.model)
	_ = mw.WriteField("response_format", "verbose_json")
	_ = mw.WriteField("timestamp_granularities[]", "segment")
	if err := mw.Close(); err != nil {
		return recall.Transcript{}, &recall.ErrLLM{Provider: "openai", Message: fmt.Sprintf("close form: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return recall.Transcript{}, &recall.ErrLLM{Provider: "openai", Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return recall.Transcript{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return recall.Transcript{}, httpErr(resp)
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return recall.Transcript{}, &recall.ErrLLM{Provider: "openai", Message: fmt.Sprintf("decode response: %v", err)}
	}

	out := recall.Transcript{
		Text:       parsed.Text,
		Language:   parsed.Language,
		DurationMs: int64(parsed.Duration * 1000),
	}
	for _, s := range parsed.Segments {
		out.Segments = append(out.Segments, recall.TranscriptSegment{
			Text:    s.Text,
			StartMs: int64(s.Start * 1000),
			EndMs:   int64(s.End * 1000),
		})
	}
	return out, nil
}
