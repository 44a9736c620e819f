package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	recall "github.com/altanhq/recall"
	"github.com/altanhq/recall/ingest"
)

// memStore is an in-memory recall.Store for handler tests.
type memStore struct {
	gotEmail string

	documents     map[string]recall.Document
	jobs          map[string]recall.IngestionJob
	chunks        map[string][]recall.Chunk
	conversations map[string]recall.Conversation
	messages      map[string][]recall.Message
}

func newMemStore() *memStore {
	return &memStore{
		documents:     map[string]recall.Document{},
		jobs:          map[string]recall.IngestionJob{},
		chunks:        map[string][]recall.Chunk{},
		conversations: map[string]recall.Conversation{},
		messages:      map[string][]recall.Message{},
	}
}

func (s *memStore) GetOrCreateUser(_ context.Context, email string) (recall.User, error) {
	s.gotEmail = email
	return recall.User{ID: "u1", Email: email}, nil
}

func (s *memStore) CreateDocument(_ context.Context, doc recall.Document) error {
	s.documents[doc.ID] = doc
	return nil
}

func (s *memStore) GetDocument(_ context.Context, _, docID string) (recall.Document, error) {
	doc, ok := s.documents[docID]
	if !ok {
		return recall.Document{}, recall.Errf(recall.KindNotFound, "document %s not found", docID)
	}
	return doc, nil
}

func (s *memStore) ListDocuments(_ context.Context, _ string, _ recall.DocumentFilter) ([]recall.Document, int, error) {
	var out []recall.Document
	for _, d := range s.documents {
		out = append(out, d)
	}
	return out, len(out), nil
}

func (s *memStore) DeleteDocument(_ context.Context, _, docID string) error {
	if _, ok := s.documents[docID]; !ok {
		return recall.Errf(recall.KindNotFound, "document %s not found", docID)
	}
	delete(s.documents, docID)
	return nil
}

func (s *memStore) UpdateDocumentExtraction(context.Context, string, string, string, json.RawMessage) error {
	return nil
}

func (s *memStore) UpdateDocumentStatus(context.Context, string, recall.DocStatus) error {
	return nil
}

func (s *memStore) CreateJob(_ context.Context, job recall.IngestionJob) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *memStore) GetJob(_ context.Context, _, jobID string) (recall.IngestionJob, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return recall.IngestionJob{}, recall.Errf(recall.KindNotFound, "job %s not found", jobID)
	}
	return job, nil
}

func (s *memStore) UpdateJobStage(_ context.Context, jobID string, stage recall.JobStage) error {
	job := s.jobs[jobID]
	job.Stage = stage
	s.jobs[jobID] = job
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, jobID, _, errMsg string) error {
	job := s.jobs[jobID]
	job.Status = recall.JobFailed
	job.Error = errMsg
	s.jobs[jobID] = job
	return nil
}

func (s *memStore) StoreChunks(_ context.Context, docID, jobID string, chunks []recall.Chunk, _ []recall.ChunkEmbedding) error {
	s.chunks[docID] = chunks
	job := s.jobs[jobID]
	job.Status = recall.JobCompleted
	job.Stage = recall.StageIndexed
	s.jobs[jobID] = job
	return nil
}

func (s *memStore) ListChunks(_ context.Context, _, docID string, _ int) ([]recall.Chunk, error) {
	return s.chunks[docID], nil
}

func (s *memStore) SearchChunks(context.Context, string, []float32, int, *recall.Interval) ([]recall.RetrievedChunk, error) {
	return nil, nil
}

func (s *memStore) SearchChunksKeyword(context.Context, string, string, int, *recall.Interval) ([]recall.RetrievedChunk, error) {
	return nil, nil
}

func (s *memStore) CreateConversation(_ context.Context, conv recall.Conversation) error {
	s.conversations[conv.ID] = conv
	return nil
}

func (s *memStore) GetConversation(_ context.Context, _, convID string) (recall.Conversation, error) {
	conv, ok := s.conversations[convID]
	if !ok {
		return recall.Conversation{}, recall.Errf(recall.KindNotFound, "conversation %s not found", convID)
	}
	return conv, nil
}

func (s *memStore) ListConversations(context.Context, string, int) ([]recall.Conversation, error) {
	var out []recall.Conversation
	for _, c := range s.conversations {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) DeleteConversation(_ context.Context, _, convID string) error {
	delete(s.conversations, convID)
	return nil
}

func (s *memStore) StoreMessage(_ context.Context, msg recall.Message) error {
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *memStore) GetMessages(_ context.Context, convID string, _ int) ([]recall.Message, error) {
	return s.messages[convID], nil
}

func (s *memStore) Init(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

var _ recall.Store = (*memStore)(nil)

// stubEmbedding returns zero vectors.
type stubEmbedding struct{}

func (stubEmbedding) Name() string    { return "stub-embed" }
func (stubEmbedding) Dimensions() int { return 4 }

func (stubEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, 4)
	}
	return out, nil
}

// stubRetriever returns a canned result set.
type stubRetriever struct {
	chunks []recall.RetrievedChunk
	err    error
}

func (r *stubRetriever) Retrieve(context.Context, string, string, string, int) ([]recall.RetrievedChunk, error) {
	return r.chunks, r.err
}

// scriptProvider streams fixed tokens and returns a fixed response.
type scriptProvider struct {
	content string
	tokens  []string
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Chat(context.Context, recall.ChatRequest) (recall.ChatResponse, error) {
	return recall.ChatResponse{Content: p.content}, nil
}

func (p *scriptProvider) ChatStream(_ context.Context, _ recall.ChatRequest, ch chan<- recall.StreamEvent) (recall.ChatResponse, error) {
	defer close(ch)
	for _, tok := range p.tokens {
		ch <- recall.StreamEvent{Token: tok}
	}
	return recall.ChatResponse{Content: p.content}, nil
}

func newTestRouter(t *testing.T, store *memStore, retr recall.Retriever, llm recall.Provider) *gin.Engine {
	t.Helper()
	if retr == nil {
		retr = &stubRetriever{}
	}
	if llm == nil {
		llm = &scriptProvider{content: "ok"}
	}
	pipeline := ingest.NewPipeline(store, stubEmbedding{}, ingest.WithUploadDir(t.TempDir()))
	answerer := recall.NewAnswerer(store, retr, llm, recall.ApproxTokenCounter{})
	srv := New(Deps{
		Store:     store,
		Pipeline:  pipeline,
		Retriever: retr,
		Answerer:  answerer,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return srv.Router()
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, newMemStore(), nil, nil)
	w := doJSON(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestIdentityDefaultEmail(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(t, store, nil, nil)

	doJSON(r, http.MethodGet, "/api/documents", nil)
	if store.gotEmail != DefaultUserEmail {
		t.Errorf("resolved email = %q, want %q", store.gotEmail, DefaultUserEmail)
	}
}

func TestIdentityHeaderEmail(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(t, store, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("X-User-Email", "alice@example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if store.gotEmail != "alice@example.com" {
		t.Errorf("resolved email = %q", store.gotEmail)
	}
}

func TestIngestTextCreated(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(t, store, nil, nil)

	w := doJSON(r, http.MethodPost, "/api/ingest/text", gin.H{"title": "Note", "text": "some content"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Job recall.IngestionJob `json:"job"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Job.Status != recall.JobCompleted || resp.Job.Stage != recall.StageIndexed {
		t.Errorf("job = %s/%s", resp.Job.Status, resp.Job.Stage)
	}
	if len(store.documents) != 1 {
		t.Errorf("got %d documents, want 1", len(store.documents))
	}
}

func TestIngestTextMissingText(t *testing.T) {
	r := newTestRouter(t, newMemStore(), nil, nil)
	w := doJSON(r, http.MethodPost, "/api/ingest/text", gin.H{"title": "no body"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestIngestTextEmptyCompletes(t *testing.T) {
	// Empty text is a valid zero-chunk document, not a client error.
	store := newMemStore()
	r := newTestRouter(t, store, nil, nil)

	w := doJSON(r, http.MethodPost, "/api/ingest/text", gin.H{"text": ""})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Job recall.IngestionJob `json:"job"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Job.Status != recall.JobCompleted {
		t.Errorf("job status = %s, want completed", resp.Job.Status)
	}
	if len(store.chunks[resp.Job.DocumentID]) != 0 {
		t.Errorf("got %d chunks, want 0", len(store.chunks[resp.Job.DocumentID]))
	}
}

func TestIngestTextBackdatedCreatedAt(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(t, store, nil, nil)

	w := doJSON(r, http.MethodPost, "/api/ingest/text",
		gin.H{"text": "old note", "created_at": "2024-03-15T10:00:00Z"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	for _, doc := range store.documents {
		if want := int64(1710496800); doc.CreatedAt != want {
			t.Errorf("doc created_at = %d, want %d", doc.CreatedAt, want)
		}
	}
}

func TestIngestTextInvalidCreatedAt(t *testing.T) {
	r := newTestRouter(t, newMemStore(), nil, nil)
	w := doJSON(r, http.MethodPost, "/api/ingest/text",
		gin.H{"text": "note", "created_at": "the other day"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestIngestURLBadScheme(t *testing.T) {
	r := newTestRouter(t, newMemStore(), nil, nil)
	w := doJSON(r, http.MethodPost, "/api/ingest/url", gin.H{"url": "ftp://example.com"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestIngestFileUpload(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(t, store, nil, nil)

	var buf bytes.Buffer
	mw := multipartFile(t, &buf, "notes.md", "# Heading\n\nBody text.", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/file", &buf)
	req.Header.Set("Content-Type", mw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(store.documents) != 1 {
		t.Errorf("got %d documents, want 1", len(store.documents))
	}
}

func TestIngestFileSourceTypeField(t *testing.T) {
	// The declared source_type wins over the filename extension.
	store := newMemStore()
	r := newTestRouter(t, store, nil, nil)

	var buf bytes.Buffer
	mw := multipartFile(t, &buf, "export.dat", "plain words", map[string]string{"source_type": "text"})
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/file", &buf)
	req.Header.Set("Content-Type", mw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	for _, doc := range store.documents {
		if doc.SourceType != recall.SourceText {
			t.Errorf("source type = %s, want text", doc.SourceType)
		}
	}
}

func TestIngestFileInvalidSourceType(t *testing.T) {
	r := newTestRouter(t, newMemStore(), nil, nil)

	var buf bytes.Buffer
	mw := multipartFile(t, &buf, "notes.md", "body", map[string]string{"source_type": "carrier_pigeon"})
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/file", &buf)
	req.Header.Set("Content-Type", mw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestListDocuments(t *testing.T) {
	store := newMemStore()
	store.documents["d1"] = recall.Document{ID: "d1", Title: "One", SourceType: recall.SourceText}
	r := newTestRouter(t, store, nil, nil)

	w := doJSON(r, http.MethodGet, "/api/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Documents []recall.Document `json:"documents"`
		Total     int               `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Documents) != 1 {
		t.Errorf("total = %d, documents = %d", resp.Total, len(resp.Documents))
	}
}

func TestListDocumentsInvalidSourceType(t *testing.T) {
	r := newTestRouter(t, newMemStore(), nil, nil)
	w := doJSON(r, http.MethodGet, "/api/documents?source_type=carrier_pigeon", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestGetJobUnderIngest(t *testing.T) {
	store := newMemStore()
	store.jobs["j1"] = recall.IngestionJob{ID: "j1", Status: recall.JobCompleted, Stage: recall.StageIndexed}
	r := newTestRouter(t, store, nil, nil)

	w := doJSON(r, http.MethodGet, "/api/ingest/jobs/j1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "indexed") {
		t.Errorf("body = %s", w.Body.String())
	}
	if w := doJSON(r, http.MethodGet, "/api/ingest/jobs/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", w.Code)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	r := newTestRouter(t, newMemStore(), nil, nil)
	w := doJSON(r, http.MethodGet, "/api/documents/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	store := newMemStore()
	store.documents["d1"] = recall.Document{ID: "d1"}
	r := newTestRouter(t, store, nil, nil)

	w := doJSON(r, http.MethodDelete, "/api/documents/d1", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if len(store.documents) != 0 {
		t.Error("document should be gone")
	}
}

func TestSearch(t *testing.T) {
	retr := &stubRetriever{chunks: []recall.RetrievedChunk{
		{Chunk: recall.Chunk{ID: "c1", Content: "match"}, DocumentTitle: "Doc", Score: 0.9},
	}}
	r := newTestRouter(t, newMemStore(), retr, nil)

	w := doJSON(r, http.MethodPost, "/api/search", gin.H{"query": "anything"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Results []recall.RetrievedChunk `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Chunk.ID != "c1" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	r := newTestRouter(t, newMemStore(), nil, nil)
	w := doJSON(r, http.MethodPost, "/api/search", gin.H{"top_k": 5})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestSearchRejectedQueryIs400(t *testing.T) {
	retr := &stubRetriever{err: recall.Errf(recall.KindQueryRejected, "empty query")}
	r := newTestRouter(t, newMemStore(), retr, nil)

	w := doJSON(r, http.MethodPost, "/api/search", gin.H{"query": "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestChat(t *testing.T) {
	retr := &stubRetriever{chunks: []recall.RetrievedChunk{
		{Chunk: recall.Chunk{ID: "c1", DocumentID: "d1", Content: "relevant"}, DocumentTitle: "Doc", Score: 0.9},
	}}
	llm := &scriptProvider{content: "the answer"}
	r := newTestRouter(t, newMemStore(), retr, llm)

	w := doJSON(r, http.MethodPost, "/api/chat", gin.H{"message": "question"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var ans recall.Answer
	if err := json.Unmarshal(w.Body.Bytes(), &ans); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ans.Content != "the answer" {
		t.Errorf("content = %q", ans.Content)
	}
	if ans.ConversationID == "" {
		t.Error("answer should carry a conversation ID")
	}
	if len(ans.Citations) != 1 {
		t.Errorf("got %d citations, want 1", len(ans.Citations))
	}
}

func TestChatStreamFrames(t *testing.T) {
	retr := &stubRetriever{chunks: []recall.RetrievedChunk{
		{Chunk: recall.Chunk{ID: "c1", DocumentID: "d1", Content: "relevant"}, DocumentTitle: "Doc", Score: 0.9},
	}}
	llm := &scriptProvider{content: "hello", tokens: []string{"hel", "lo"}}
	r := newTestRouter(t, newMemStore(), retr, llm)

	w := doJSON(r, http.MethodPost, "/api/chat/stream", gin.H{"message": "question"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	events := parseSSE(t, w.Body.String())
	if len(events) < 4 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	// Frame order is start, citations, token*, done: citations precede the
	// first token so clients can render sources during generation.
	if events[0].Type != "start" {
		t.Errorf("first event = %q, want start", events[0].Type)
	}
	if events[1].Type != "citations" {
		t.Errorf("second event = %q, want citations before any token", events[1].Type)
	}
	if len(events[1].Citations) != 1 {
		t.Errorf("got %d citations", len(events[1].Citations))
	}
	var streamed string
	for _, ev := range events[2:] {
		if ev.Type == "token" {
			streamed += ev.Token
		}
	}
	if streamed != "hello" {
		t.Errorf("streamed %q, want %q", streamed, "hello")
	}
	last := events[len(events)-1]
	if last.Type != "done" || last.ConversationID == "" {
		t.Errorf("last event = %+v, want done with conversation ID", last)
	}
}

func TestChatStreamErrorFrame(t *testing.T) {
	retr := &stubRetriever{err: recall.Errf(recall.KindStorage, "db down")}
	r := newTestRouter(t, newMemStore(), retr, nil)

	w := doJSON(r, http.MethodPost, "/api/chat/stream", gin.H{"message": "question"})
	events := parseSSE(t, w.Body.String())
	last := events[len(events)-1]
	if last.Type != "error" {
		t.Fatalf("last event = %q, want error", last.Type)
	}
	if last.Detail != "internal error" {
		t.Errorf("detail = %q, internal causes must not leak", last.Detail)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	store := newMemStore()
	store.conversations["conv1"] = recall.Conversation{ID: "conv1", Title: "First chat"}
	store.messages["conv1"] = []recall.Message{
		{ID: "m1", ConversationID: "conv1", Role: "user", Content: "hi"},
	}
	r := newTestRouter(t, store, nil, nil)

	w := doJSON(r, http.MethodGet, "/api/conversations/conv1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Conversation recall.Conversation `json:"conversation"`
		Messages     []recall.Message    `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Conversation.Title != "First chat" || len(resp.Messages) != 1 {
		t.Errorf("resp = %+v", resp)
	}

	w = doJSON(r, http.MethodDelete, "/api/conversations/conv1", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
}

// parseSSE decodes data-only SSE frames into events.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad SSE frame %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

// multipartFile writes a single-file multipart body with optional extra
// form fields and returns the content type.
func multipartFile(t *testing.T, buf *bytes.Buffer, filename, content string, fields map[string]string) string {
	t.Helper()
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return mw.FormDataContentType()
}
