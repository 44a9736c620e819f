package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	recall "github.com/altanhq/recall"
)

// streamSSE reads an SSE stream from body, sends token events to ch, and
// returns the fully accumulated response. The channel is closed when
// streaming completes; callers read from ch in a separate goroutine.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, body io.Reader, ch chan<- recall.StreamEvent) (recall.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var total recall.Usage

	for scanner.Scan() {
		line := scanner.Text()

		// SSE lines that carry data start with "data: ".
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		// End-of-stream sentinel.
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if chunk.Usage != nil {
			total.InputTokens = chunk.Usage.PromptTokens
			total.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta == nil || delta.Content == "" {
			continue
		}

		fullContent.WriteString(delta.Content)
		select {
		case ch <- recall.StreamEvent{Token: delta.Content}:
		case <-ctx.Done():
			return recall.ChatResponse{}, ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return recall.ChatResponse{}, err
	}

	return recall.ChatResponse{Content: fullContent.String(), Usage: total}, nil
}
