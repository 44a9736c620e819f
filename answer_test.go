package recall

import (
	"context"
	"strings"
	"testing"
)

// answerStore tracks conversations and messages in memory.
type answerStore struct {
	nopStore
	conversations []Conversation
	messages      []Message
	getConvErr    error
}

func (s *answerStore) CreateConversation(_ context.Context, conv Conversation) error {
	s.conversations = append(s.conversations, conv)
	return nil
}

func (s *answerStore) GetConversation(_ context.Context, _, convID string) (Conversation, error) {
	if s.getConvErr != nil {
		return Conversation{}, s.getConvErr
	}
	for _, c := range s.conversations {
		if c.ID == convID {
			return c, nil
		}
	}
	return Conversation{}, Errf(KindNotFound, "conversation %s", convID)
}

func (s *answerStore) StoreMessage(_ context.Context, msg Message) error {
	s.messages = append(s.messages, msg)
	return nil
}

func (s *answerStore) GetMessages(_ context.Context, convID string, _ int) ([]Message, error) {
	var out []Message
	for _, m := range s.messages {
		if m.ConversationID == convID {
			out = append(out, m)
		}
	}
	return out, nil
}

// fixedRetriever returns a canned result set.
type fixedRetriever struct {
	chunks []RetrievedChunk
	err    error
}

func (r *fixedRetriever) Retrieve(_ context.Context, _, _, _ string, _ int) ([]RetrievedChunk, error) {
	return r.chunks, r.err
}

func retrievedChunk(id, title, content string, score float64) RetrievedChunk {
	return RetrievedChunk{
		Chunk:         Chunk{ID: id, DocumentID: "doc-" + id, Content: content},
		DocumentTitle: title,
		SourceType:    SourceText,
		Score:         score,
	}
}

func newTestAnswerer(store Store, retriever Retriever, provider Provider) *Answerer {
	return NewAnswerer(store, retriever, provider, ApproxTokenCounter{})
}

func TestAnswerCreatesConversation(t *testing.T) {
	store := &answerStore{}
	retr := &fixedRetriever{chunks: []RetrievedChunk{retrievedChunk("c1", "Notes", "go is fine", 0.9)}}
	llm := &stubProvider{results: []stubResult{{resp: ChatResponse{Content: "answer text"}}}}

	a := newTestAnswerer(store, retr, llm)
	ans, err := a.Answer(context.Background(), "u1", "", "what is go", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.conversations) != 1 {
		t.Fatalf("got %d conversations, want 1", len(store.conversations))
	}
	if store.conversations[0].Title != "what is go" {
		t.Errorf("title = %q, want the query", store.conversations[0].Title)
	}
	if ans.ConversationID != store.conversations[0].ID {
		t.Error("answer should carry the new conversation ID")
	}
	if ans.Content != "answer text" {
		t.Errorf("content = %q, want %q", ans.Content, "answer text")
	}
}

func TestAnswerPersistsBothMessages(t *testing.T) {
	store := &answerStore{}
	retr := &fixedRetriever{chunks: []RetrievedChunk{retrievedChunk("c1", "Notes", "content", 0.9)}}
	llm := &stubProvider{results: []stubResult{{resp: ChatResponse{Content: "reply"}}}}

	a := newTestAnswerer(store, retr, llm)
	if _, err := a.Answer(context.Background(), "u1", "", "question", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.messages) != 2 {
		t.Fatalf("got %d messages, want 2 (user + assistant)", len(store.messages))
	}
	if store.messages[0].Role != "user" || store.messages[1].Role != "assistant" {
		t.Errorf("roles = %s, %s; want user, assistant", store.messages[0].Role, store.messages[1].Role)
	}
	if store.messages[1].Citations == nil {
		t.Error("assistant message should carry citations")
	}
}

func TestAnswerNoResultsSkipsLLM(t *testing.T) {
	store := &answerStore{}
	retr := &fixedRetriever{} // nothing retrieved
	llm := &stubProvider{}    // any call would return empty and bump calls

	a := newTestAnswerer(store, retr, llm)
	ans, err := a.Answer(context.Background(), "u1", "", "unknown topic", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if llm.calls != 0 {
		t.Errorf("LLM called %d times, want 0 when retrieval is empty", llm.calls)
	}
	if !strings.Contains(ans.Content, "don't have any information") {
		t.Errorf("content = %q, want the canned no-info reply", ans.Content)
	}
	if len(ans.Citations) != 0 {
		t.Errorf("got %d citations, want 0", len(ans.Citations))
	}
}

func TestAnswerUnknownConversation(t *testing.T) {
	store := &answerStore{}
	retr := &fixedRetriever{}
	llm := &stubProvider{}

	a := newTestAnswerer(store, retr, llm)
	_, err := a.Answer(context.Background(), "u1", "missing-conv", "q", "")
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindNotFound)
	}
}

func TestAnswerStreamEmitsTokens(t *testing.T) {
	store := &answerStore{}
	retr := &fixedRetriever{chunks: []RetrievedChunk{retrievedChunk("c1", "Notes", "content", 0.9)}}
	llm := &stubProvider{results: []stubResult{
		{tokens: []string{"hel", "lo"}, resp: ChatResponse{Content: "hello"}},
	}}

	a := newTestAnswerer(store, retr, llm)
	ch := make(chan StreamEvent, 8)
	ans, err := a.AnswerStream(context.Background(), "u1", "", "q", "", ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	if len(events[0].Citations) != 1 {
		t.Errorf("first event = %+v, want the citations", events[0])
	}
	var got string
	for _, ev := range events[1:] {
		got += ev.Token
	}
	if got != "hello" {
		t.Errorf("streamed %q, want %q", got, "hello")
	}
	if ans.Content != "hello" {
		t.Errorf("content = %q, want %q", ans.Content, "hello")
	}
	// Assistant message persisted after the stream finished.
	last := store.messages[len(store.messages)-1]
	if last.Role != "assistant" || last.Content != "hello" {
		t.Errorf("last message = %s %q, want assistant %q", last.Role, last.Content, "hello")
	}
}

func TestAnswerStreamNoInfoEmitsCannedToken(t *testing.T) {
	store := &answerStore{}
	retr := &fixedRetriever{}
	llm := &stubProvider{}

	a := newTestAnswerer(store, retr, llm)
	ch := make(chan StreamEvent, 8)
	if _, err := a.AnswerStream(context.Background(), "u1", "", "q", "", ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var tokens []string
	for ev := range ch {
		tokens = append(tokens, ev.Token)
	}
	if len(tokens) != 1 || !strings.Contains(tokens[0], "don't have any information") {
		t.Errorf("tokens = %v, want single canned reply", tokens)
	}
}

func TestBuildContextRespectsBudget(t *testing.T) {
	chunks := []RetrievedChunk{
		retrievedChunk("c1", "A", strings.Repeat("x", 400), 0.9),
		retrievedChunk("c2", "B", strings.Repeat("y", 400), 0.8),
		retrievedChunk("c3", "C", strings.Repeat("z", 400), 0.7),
	}
	a := NewAnswerer(&answerStore{}, &fixedRetriever{}, &stubProvider{}, ApproxTokenCounter{},
		WithContextBudget(150)) // ~600 chars with the 4-chars-per-token approximation

	ctx := a.buildContext(chunks)
	if !strings.Contains(ctx, "[Source 1: A]") {
		t.Error("first source must always be included")
	}
	if strings.Contains(ctx, "[Source 3: C]") {
		t.Error("third source should not fit the budget")
	}
}

func TestBuildContextAlwaysIncludesFirst(t *testing.T) {
	chunks := []RetrievedChunk{
		retrievedChunk("c1", "Huge", strings.Repeat("x", 10_000), 0.9),
	}
	a := NewAnswerer(&answerStore{}, &fixedRetriever{}, &stubProvider{}, ApproxTokenCounter{},
		WithContextBudget(10))

	ctx := a.buildContext(chunks)
	if !strings.Contains(ctx, "[Source 1: Huge]") {
		t.Error("an over-budget first source must still be included")
	}
}

// --- citations ---

func intPtr(n int) *int    { return &n }
func msPtr(n int64) *int64 { return &n }

func TestBuildCitations(t *testing.T) {
	rc := retrievedChunk("c1", "Paper", strings.Repeat("a", 300), 0.83)
	rc.Chunk.StartPage = intPtr(4)
	rc.Chunk.EndPage = intPtr(6)

	cits := BuildCitations([]RetrievedChunk{rc})
	if len(cits) != 1 {
		t.Fatalf("got %d citations, want 1", len(cits))
	}
	c := cits[0]
	if c.ChunkID != "c1" || c.DocumentID != "doc-c1" {
		t.Errorf("wrong IDs: %+v", c)
	}
	if c.PageRange != "p. 4-6" {
		t.Errorf("page range = %q, want %q", c.PageRange, "p. 4-6")
	}
	if len(c.TextSnippet) != 203 || !strings.HasSuffix(c.TextSnippet, "...") {
		t.Errorf("snippet should truncate to 200 chars plus ellipsis, got %d", len(c.TextSnippet))
	}
}

func TestPageRange(t *testing.T) {
	if got := pageRange(nil, nil); got != "" {
		t.Errorf("nil pages = %q, want empty", got)
	}
	if got := pageRange(intPtr(3), intPtr(3)); got != "p. 3" {
		t.Errorf("same page = %q, want %q", got, "p. 3")
	}
	if got := pageRange(intPtr(3), nil); got != "p. 3" {
		t.Errorf("open end = %q, want %q", got, "p. 3")
	}
}

func TestTimeRange(t *testing.T) {
	if got := timeRange(nil, nil); got != "" {
		t.Errorf("nil times = %q, want empty", got)
	}
	if got := timeRange(msPtr(65_000), msPtr(125_000)); got != "01:05-02:05" {
		t.Errorf("range = %q, want %q", got, "01:05-02:05")
	}
	if got := timeRange(msPtr(5_000), nil); got != "00:05" {
		t.Errorf("open end = %q, want %q", got, "00:05")
	}
}

func TestSnippetUTF8Safe(t *testing.T) {
	s := strings.Repeat("é", 120) // 2 bytes each
	got := snippet(s, 201)        // falls mid-rune
	trimmed := strings.TrimSuffix(got, "...")
	if !strings.HasSuffix(got, "...") {
		t.Error("expected ellipsis")
	}
	for _, r := range trimmed {
		if r != 'é' {
			t.Fatalf("snippet split a rune: %q", r)
		}
	}
}

func TestConversationTitleTruncates(t *testing.T) {
	long := strings.Repeat("w", 80)
	got := conversationTitle("  " + long + "  ")
	if len(got) != 53 || !strings.HasSuffix(got, "...") {
		t.Errorf("title = %q (%d chars), want 50 chars plus ellipsis", got, len(got))
	}
}
