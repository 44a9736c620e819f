// Package openai implements chat, embedding, and transcription clients
// against the OpenAI HTTP API.
package openai

import (
	"io"
	"net/http"

	recall "github.com/altanhq/recall"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// httpErr reads the response body and returns an ErrHTTP for retry
// middleware. Parses the Retry-After header when present (429/503).
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &recall.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: recall.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}
