package recall

import "encoding/json"

// --- Domain types (database records) ---

// SourceType identifies the origin format of a document.
type SourceType string

const (
	SourceText     SourceType = "text"
	SourceMarkdown SourceType = "markdown"
	SourcePDF      SourceType = "pdf"
	SourceWeb      SourceType = "web"
	SourceAudio    SourceType = "audio"
	SourceImage    SourceType = "image"
)

// Valid reports whether s is a recognized source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceText, SourceMarkdown, SourcePDF, SourceWeb, SourceAudio, SourceImage:
		return true
	}
	return false
}

// DocStatus is the lifecycle state of a document.
type DocStatus string

const (
	DocPending    DocStatus = "pending"
	DocProcessing DocStatus = "processing"
	DocCompleted  DocStatus = "completed"
	DocFailed     DocStatus = "failed"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobStage marks pipeline progress. Stages advance strictly in order:
// received, extracted, chunked, embedded, indexed.
type JobStage string

const (
	StageReceived  JobStage = "received"
	StageExtracted JobStage = "extracted"
	StageChunked   JobStage = "chunked"
	StageEmbedded  JobStage = "embedded"
	StageIndexed   JobStage = "indexed"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"created_at"`
}

// Document is one ingested source. CreatedAt is the content's own
// timestamp (caller-supplied for backdated notes, publication date for web
// pages) and anchors temporal filtering; IngestedAt is when indexing
// finished and FetchedAt when a web page was downloaded.
type Document struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	SourceType       SourceType      `json:"source_type"`
	Title            string          `json:"title"`
	SourceURI        string          `json:"source_uri,omitempty"`
	OriginalFilename string          `json:"original_filename,omitempty"`
	ContentText      string          `json:"-"`
	ContentHash      string          `json:"content_hash"`
	Status           DocStatus       `json:"status"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt        int64           `json:"created_at"`
	UpdatedAt        int64           `json:"updated_at"`
	IngestedAt       int64           `json:"ingested_at,omitempty"`
	FetchedAt        int64           `json:"fetched_at,omitempty"`
}

// Chunk is one retrievable unit of a document. UserID is denormalized from
// the parent document so search never needs a join for the user filter.
// Char offsets index into the document's extracted text; StartTimeMs/EndTimeMs
// are set only for audio-derived chunks and StartPage/EndPage only when page
// boundaries are known. TokenCount is measured with the cl100k_base encoding.
type Chunk struct {
	ID             string `json:"id"`
	DocumentID     string `json:"document_id"`
	UserID         string `json:"user_id"`
	ChunkIndex     int    `json:"chunk_index"`
	Content        string `json:"content"`
	TokenCount     int    `json:"token_count"`
	CharStart      int    `json:"char_start"`
	CharEnd        int    `json:"char_end"`
	StartPage      *int   `json:"start_page,omitempty"`
	EndPage        *int   `json:"end_page,omitempty"`
	StartTimeMs    *int64 `json:"start_time_ms,omitempty"`
	EndTimeMs      *int64 `json:"end_time_ms,omitempty"`
	SourceOffsetMs *int64 `json:"source_offset_ms,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

// ChunkEmbedding is the stored vector for exactly one chunk.
type ChunkEmbedding struct {
	ID             string    `json:"id"`
	ChunkID        string    `json:"chunk_id"`
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model"`
	CreatedAt      int64     `json:"created_at"`
}

type IngestionJob struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	DocumentID string     `json:"document_id"`
	SourceType SourceType `json:"source_type"`
	Status     JobStatus  `json:"status"`
	Stage      JobStage   `json:"stage"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  int64      `json:"created_at"`
	UpdatedAt  int64      `json:"updated_at"`
}

type Conversation struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"` // "user" or "assistant"
	Content        string          `json:"content"`
	Citations      json.RawMessage `json:"citations,omitempty"`
	CreatedAt      int64           `json:"created_at"`
}

// --- Retrieval types ---

// RetrievedChunk is a scored chunk joined with its document identity.
// Score is the fused hybrid score; VectorScore and TextScore carry the
// per-signal components for debugging and weighting tests.
type RetrievedChunk struct {
	Chunk
	DocumentTitle  string     `json:"document_title"`
	SourceURI      string     `json:"source_uri,omitempty"`
	SourceType     SourceType `json:"source_type"`
	Score          float64    `json:"score"`
	VectorScore    float64    `json:"vector_score"`
	TextScore      float64    `json:"text_score"`
}

// Citation is the user-facing provenance record attached to an answer.
type Citation struct {
	ChunkID       string     `json:"chunk_id"`
	DocumentID    string     `json:"document_id"`
	DocumentTitle string     `json:"document_title"`
	SourceURI     string     `json:"source_uri,omitempty"`
	SourceType    SourceType `json:"source_type"`
	TextSnippet   string     `json:"text_snippet"`
	Score         float64    `json:"score"`
	PageRange     string     `json:"page_range,omitempty"`
	TimeRange     string     `json:"time_range,omitempty"`
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamEvent is one event on a streaming answer channel: a token delta
// from the chat completion, or the citations resolved before generation
// starts (sent first, so clients can render sources while tokens arrive).
type StreamEvent struct {
	Token     string     `json:"token,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}
