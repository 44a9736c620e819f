package recall

import (
	"context"
	"encoding/json"
)

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	SourceType SourceType // zero value = all types
	Limit      int
	Offset     int
}

// Store abstracts persistence for the knowledge base. All operations are
// scoped to a single user where a userID parameter is present; a store never
// returns another user's rows.
type Store interface {
	// --- Users ---
	GetOrCreateUser(ctx context.Context, email string) (User, error)

	// --- Documents ---
	CreateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, userID, docID string) (Document, error)
	ListDocuments(ctx context.Context, userID string, f DocumentFilter) ([]Document, int, error)
	DeleteDocument(ctx context.Context, userID, docID string) error
	// UpdateDocumentExtraction records extracted text, resolved title, and
	// source metadata once the extract stage finishes.
	UpdateDocumentExtraction(ctx context.Context, docID, title, contentText string, metadata json.RawMessage) error
	UpdateDocumentStatus(ctx context.Context, docID string, status DocStatus) error

	// --- Ingestion jobs ---
	CreateJob(ctx context.Context, job IngestionJob) error
	GetJob(ctx context.Context, userID, jobID string) (IngestionJob, error)
	// UpdateJobStage persists a stage transition. The pipeline calls this
	// before starting the next stage's work.
	UpdateJobStage(ctx context.Context, jobID string, stage JobStage) error
	// MarkFailed moves the job and its document to failed together,
	// recording the error on the job.
	MarkFailed(ctx context.Context, jobID, docID, errMsg string) error

	// --- Chunks + embeddings ---
	// StoreChunks writes chunks, their embeddings, and the terminal
	// completed status of the document and job in one transaction.
	StoreChunks(ctx context.Context, docID, jobID string, chunks []Chunk, embeddings []ChunkEmbedding) error
	ListChunks(ctx context.Context, userID, docID string, limit int) ([]Chunk, error)

	// --- Search ---
	// SearchChunks is dense retrieval: cosine similarity over stored
	// embeddings, restricted to userID's completed documents and, when
	// interval is non-nil, to the temporal window.
	SearchChunks(ctx context.Context, userID string, embedding []float32, topK int, interval *Interval) ([]RetrievedChunk, error)
	// SearchChunksKeyword is sparse retrieval: full-text rank over chunk
	// content, same scoping rules as SearchChunks.
	SearchChunksKeyword(ctx context.Context, userID, query string, topK int, interval *Interval) ([]RetrievedChunk, error)

	// --- Conversations ---
	CreateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, userID, convID string) (Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error)
	DeleteConversation(ctx context.Context, userID, convID string) error
	StoreMessage(ctx context.Context, msg Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
