package recall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const answerSystemPrompt = `You are a personal knowledge base assistant. Answer the user's question using only the provided sources. Cite sources inline as [Source N]. If the sources do not contain the answer, say so plainly instead of guessing.`

// noInfoReply is returned without calling the LLM when retrieval finds nothing.
const noInfoReply = "I don't have any information about that in my knowledge base."

const (
	defaultAnswerTopK    = 5
	historyWindow        = 6
	citationSnippetChars = 200
)

// Answer is a generated reply with its provenance.
type Answer struct {
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations"`
}

// AnswerOption configures an Answerer.
type AnswerOption func(*Answerer)

// WithAnswerTopK sets how many chunks retrieval feeds into the prompt.
func WithAnswerTopK(k int) AnswerOption {
	return func(a *Answerer) { a.topK = k }
}

// WithContextBudget caps the token count of the source context block.
func WithContextBudget(tokens int) AnswerOption {
	return func(a *Answerer) { a.maxContextTokens = tokens }
}

// Answerer turns retrieval results into grounded, cited chat answers.
type Answerer struct {
	store            Store
	retriever        Retriever
	provider         Provider
	tokens           TokenCounter
	topK             int
	maxContextTokens int
}

// NewAnswerer creates an Answerer. tokens meters the context budget.
func NewAnswerer(store Store, retriever Retriever, provider Provider, tokens TokenCounter, opts ...AnswerOption) *Answerer {
	a := &Answerer{
		store:            store,
		retriever:        retriever,
		provider:         provider,
		tokens:           tokens,
		topK:             defaultAnswerTopK,
		maxContextTokens: 4000,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Answer runs the full query path and returns a complete reply.
func (a *Answerer) Answer(ctx context.Context, userID, conversationID, query, timezone string) (Answer, error) {
	prep, err := a.prepare(ctx, userID, conversationID, query, timezone)
	if err != nil {
		return Answer{}, err
	}
	if prep.noInfo {
		return a.finish(ctx, prep, noInfoReply)
	}

	resp, err := a.provider.Chat(ctx, ChatRequest{Messages: prep.messages})
	if err != nil {
		return Answer{}, &ErrLLM{Provider: a.provider.Name(), Message: err.Error()}
	}
	return a.finish(ctx, prep, resp.Content)
}

// AnswerStream emits the resolved citations into ch, then streams token
// deltas, and persists the assistant message only after the stream is
// exhausted. ch is closed before returning.
func (a *Answerer) AnswerStream(ctx context.Context, userID, conversationID, query, timezone string, ch chan<- StreamEvent) (Answer, error) {
	prep, err := a.prepare(ctx, userID, conversationID, query, timezone)
	if err != nil {
		close(ch)
		return Answer{}, err
	}
	if prep.noInfo {
		select {
		case ch <- StreamEvent{Token: noInfoReply}:
		case <-ctx.Done():
		}
		close(ch)
		return a.finish(ctx, prep, noInfoReply)
	}

	// Citations go out before the first token so clients can show sources
	// while the answer is still generating.
	select {
	case ch <- StreamEvent{Citations: prep.citations}:
	case <-ctx.Done():
		close(ch)
		return Answer{}, ctx.Err()
	}

	resp, err := a.provider.ChatStream(ctx, ChatRequest{Messages: prep.messages}, ch)
	if err != nil {
		return Answer{}, &ErrLLM{Provider: a.provider.Name(), Message: err.Error()}
	}
	return a.finish(ctx, prep, resp.Content)
}

// Retrieve exposes the underlying retrieval with the answerer's topK, for
// callers that want raw chunks without generation.
func (a *Answerer) Retrieve(ctx context.Context, userID, query, timezone string) ([]RetrievedChunk, error) {
	return a.retriever.Retrieve(ctx, userID, query, timezone, a.topK)
}

type preparedAnswer struct {
	conversationID string
	messages       []ChatMessage
	citations      []Citation
	noInfo         bool
}

func (a *Answerer) prepare(ctx context.Context, userID, conversationID, query, timezone string) (preparedAnswer, error) {
	if conversationID == "" {
		conv := Conversation{
			ID:        NewID(),
			UserID:    userID,
			Title:     conversationTitle(query),
			CreatedAt: NowUnix(),
			UpdatedAt: NowUnix(),
		}
		if err := a.store.CreateConversation(ctx, conv); err != nil {
			return preparedAnswer{}, Wrap(KindStorage, err, "create conversation")
		}
		conversationID = conv.ID
	} else if _, err := a.store.GetConversation(ctx, userID, conversationID); err != nil {
		return preparedAnswer{}, err
	}

	if err := a.store.StoreMessage(ctx, Message{
		ID:             NewID(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        query,
		CreatedAt:      NowUnix(),
	}); err != nil {
		return preparedAnswer{}, Wrap(KindStorage, err, "store user message")
	}

	chunks, err := a.retriever.Retrieve(ctx, userID, query, timezone, a.topK)
	if err != nil {
		return preparedAnswer{}, err
	}

	prep := preparedAnswer{conversationID: conversationID}
	if len(chunks) == 0 {
		prep.noInfo = true
		return prep, nil
	}

	prep.citations = BuildCitations(chunks)

	history, err := a.store.GetMessages(ctx, conversationID, historyWindow)
	if err != nil {
		return preparedAnswer{}, Wrap(KindStorage, err, "load history")
	}

	messages := []ChatMessage{SystemMessage(answerSystemPrompt + "\n\nSources:\n\n" + a.buildContext(chunks))}
	for _, m := range history {
		if m.Role == "user" && m.Content == query {
			continue
		}
		messages = append(messages, ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, UserMessage(query))
	prep.messages = messages
	return prep, nil
}

func (a *Answerer) finish(ctx context.Context, prep preparedAnswer, content string) (Answer, error) {
	var citJSON json.RawMessage
	if len(prep.citations) > 0 {
		citJSON, _ = json.Marshal(prep.citations)
	}
	msg := Message{
		ID:             NewID(),
		ConversationID: prep.conversationID,
		Role:           "assistant",
		Content:        content,
		Citations:      citJSON,
		CreatedAt:      NowUnix(),
	}
	if err := a.store.StoreMessage(ctx, msg); err != nil {
		return Answer{}, Wrap(KindStorage, err, "store assistant message")
	}
	return Answer{
		ConversationID: prep.conversationID,
		MessageID:      msg.ID,
		Content:        content,
		Citations:      prep.citations,
	}, nil
}

// buildContext renders retrieved chunks as numbered source blocks, stopping
// once the token budget is spent.
func (a *Answerer) buildContext(chunks []RetrievedChunk) string {
	var b strings.Builder
	used := 0
	for i, rc := range chunks {
		header := fmt.Sprintf("[Source %d: %s%s]\n", i+1, rc.DocumentTitle, sourceHint(rc))
		block := header + rc.Content + "\n\n"
		cost := a.tokens.Count(block)
		if used+cost > a.maxContextTokens && used > 0 {
			break
		}
		b.WriteString(block)
		used += cost
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildCitations converts retrieval results into user-facing citations.
func BuildCitations(chunks []RetrievedChunk) []Citation {
	citations := make([]Citation, 0, len(chunks))
	for _, rc := range chunks {
		citations = append(citations, Citation{
			ChunkID:       rc.Chunk.ID,
			DocumentID:    rc.Chunk.DocumentID,
			DocumentTitle: rc.DocumentTitle,
			SourceURI:     rc.SourceURI,
			SourceType:    rc.SourceType,
			TextSnippet:   snippet(rc.Content, citationSnippetChars),
			Score:         rc.Score,
			PageRange:     pageRange(rc.StartPage, rc.EndPage),
			TimeRange:     timeRange(rc.StartTimeMs, rc.EndTimeMs),
		})
	}
	return citations
}

func sourceHint(rc RetrievedChunk) string {
	if pr := pageRange(rc.StartPage, rc.EndPage); pr != "" {
		return ", " + pr
	}
	if tr := timeRange(rc.StartTimeMs, rc.EndTimeMs); tr != "" {
		return ", " + tr
	}
	return ""
}

func pageRange(start, end *int) string {
	if start == nil {
		return ""
	}
	if end == nil || *end == *start {
		return fmt.Sprintf("p. %d", *start)
	}
	return fmt.Sprintf("p. %d-%d", *start, *end)
}

func timeRange(startMs, endMs *int64) string {
	if startMs == nil {
		return ""
	}
	if endMs == nil {
		return formatMs(*startMs)
	}
	return formatMs(*startMs) + "-" + formatMs(*endMs)
}

func formatMs(ms int64) string {
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func snippet(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	// Do not split a multi-byte rune.
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}

func conversationTitle(query string) string {
	title := strings.TrimSpace(query)
	if len(title) > 50 {
		title = snippet(title, 50)
	}
	return title
}
