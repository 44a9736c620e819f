package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	recall "github.com/altanhq/recall"
)

// Embedding implements recall.EmbeddingProvider against the OpenAI
// embeddings API.
type Embedding struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	client     *http.Client
}

var _ recall.EmbeddingProvider = (*Embedding)(nil)

// EmbeddingOption configures an Embedding.
type EmbeddingOption func(*Embedding)

// WithEmbeddingBaseURL overrides the API base.
func WithEmbeddingBaseURL(u string) EmbeddingOption {
	return func(e *Embedding) { e.baseURL = u }
}

// WithEmbeddingHTTPClient overrides the HTTP client.
func WithEmbeddingHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *Embedding) { e.client = c }
}

// NewEmbedding creates an embedding client. dimensions is sent with every
// request so the stored vectors match the database column.
func NewEmbedding(apiKey, model string, dimensions int, opts ...EmbeddingOption) *Embedding {
	e := &Embedding{
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		baseURL:    DefaultBaseURL,
		client:     &http.Client{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Embedding) Name() string    { return e.model }
func (e *Embedding) Dimensions() int { return e.dimensions }

type embeddingBody struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []embeddingDatum `json:"data"`
}

type embeddingDatum struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per input text, in input order. The API response
// carries an explicit index per vector; ordering is restored from it rather
// than trusted from response position.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embeddingBody{Model: e.model, Input: texts, Dimensions: e.dimensions})
	if err != nil {
		return nil, &recall.ErrLLM{Provider: "openai", Message: fmt.Sprintf("marshal request: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, &recall.ErrLLM{Provider: "openai", Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &recall.ErrLLM{Provider: "openai", Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(parsed.Data) != len(texts) {
		return nil, &recall.ErrLLM{Provider: "openai", Message: fmt.Sprintf("got %d embeddings for %d inputs", len(parsed.Data), len(texts))}
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &recall.ErrLLM{Provider: "openai", Message: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
