package recall

import (
	"context"
	"encoding/json"
)

// nopStore satisfies the Store interface with no-ops.
// Embed this in test-specific store structs to avoid implementing every method.
type nopStore struct{}

func (nopStore) GetOrCreateUser(_ context.Context, _ string) (User, error) { return User{}, nil }
func (nopStore) CreateDocument(_ context.Context, _ Document) error        { return nil }
func (nopStore) GetDocument(_ context.Context, _, _ string) (Document, error) {
	return Document{}, nil
}
func (nopStore) ListDocuments(_ context.Context, _ string, _ DocumentFilter) ([]Document, int, error) {
	return nil, 0, nil
}
func (nopStore) DeleteDocument(_ context.Context, _, _ string) error { return nil }
func (nopStore) UpdateDocumentExtraction(_ context.Context, _, _, _ string, _ json.RawMessage) error {
	return nil
}
func (nopStore) UpdateDocumentStatus(_ context.Context, _ string, _ DocStatus) error { return nil }
func (nopStore) CreateJob(_ context.Context, _ IngestionJob) error                   { return nil }
func (nopStore) GetJob(_ context.Context, _, _ string) (IngestionJob, error) {
	return IngestionJob{}, nil
}
func (nopStore) UpdateJobStage(_ context.Context, _ string, _ JobStage) error { return nil }
func (nopStore) MarkFailed(_ context.Context, _, _, _ string) error           { return nil }
func (nopStore) StoreChunks(_ context.Context, _, _ string, _ []Chunk, _ []ChunkEmbedding) error {
	return nil
}
func (nopStore) ListChunks(_ context.Context, _, _ string, _ int) ([]Chunk, error) {
	return nil, nil
}
func (nopStore) SearchChunks(_ context.Context, _ string, _ []float32, _ int, _ *Interval) ([]RetrievedChunk, error) {
	return nil, nil
}
func (nopStore) SearchChunksKeyword(_ context.Context, _, _ string, _ int, _ *Interval) ([]RetrievedChunk, error) {
	return nil, nil
}
func (nopStore) CreateConversation(_ context.Context, _ Conversation) error { return nil }
func (nopStore) GetConversation(_ context.Context, _, _ string) (Conversation, error) {
	return Conversation{}, nil
}
func (nopStore) ListConversations(_ context.Context, _ string, _ int) ([]Conversation, error) {
	return nil, nil
}
func (nopStore) DeleteConversation(_ context.Context, _, _ string) error { return nil }
func (nopStore) StoreMessage(_ context.Context, _ Message) error         { return nil }
func (nopStore) GetMessages(_ context.Context, _ string, _ int) ([]Message, error) {
	return nil, nil
}
func (nopStore) Init(_ context.Context) error { return nil }
func (nopStore) Close() error                 { return nil }

// nopEmbedding returns fixed-size zero vectors.
type nopEmbedding struct{ dims int }

func (e nopEmbedding) Name() string    { return "nop" }
func (e nopEmbedding) Dimensions() int { return e.dims }
func (e nopEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}
