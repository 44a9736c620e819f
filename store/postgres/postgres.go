// Package postgres implements recall.Store using PostgreSQL with pgvector
// for native vector similarity search and a generated tsvector column for
// full-text keyword search.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool; NewPool builds one
// with pgvector type support registered.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	recall "github.com/altanhq/recall"
)

// Store implements recall.Store backed by PostgreSQL with pgvector.
// Vector search uses an HNSW index with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, catching
// dimension mismatches at insert time. Only affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

var _ recall.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// NewPool builds a pgx pool for databaseURL with pgvector types registered
// on every connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	return pool, nil
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			source_type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			source_uri TEXT NOT NULL DEFAULT '',
			original_filename TEXT NOT NULL DEFAULT '',
			content_text TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			metadata JSONB,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			ingested_at BIGINT NOT NULL DEFAULT 0,
			fetched_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS documents_user_idx ON documents(user_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			char_start INTEGER NOT NULL DEFAULT 0,
			char_end INTEGER NOT NULL DEFAULT 0,
			start_page INTEGER,
			end_page INTEGER,
			start_time_ms BIGINT,
			end_time_ms BIGINT,
			source_offset_ms BIGINT,
			tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
			created_at BIGINT NOT NULL,
			UNIQUE (document_id, chunk_index)
		)`,
		`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_user_idx ON chunks(user_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_tsv_idx ON chunks USING gin(tsv)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			id TEXT PRIMARY KEY,
			chunk_id TEXT NOT NULL UNIQUE REFERENCES chunks(id) ON DELETE CASCADE,
			embedding %s NOT NULL,
			embedding_model TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`, vtype),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS chunk_embeddings_hnsw_idx ON chunk_embeddings USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),

		`CREATE TABLE IF NOT EXISTS ingestion_jobs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			source_type TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ingestion_jobs_user_idx ON ingestion_jobs(user_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			citations JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// --- Users ---

// GetOrCreateUser returns the user with the given email, creating it first
// if absent.
func (s *Store) GetOrCreateUser(ctx context.Context, email string) (recall.User, error) {
	u := recall.User{ID: recall.NewID(), Email: email, CreatedAt: recall.NowUnix()}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO NOTHING`,
		u.ID, u.Email, u.CreatedAt)
	if err != nil {
		return recall.User{}, fmt.Errorf("postgres: create user: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return recall.User{}, fmt.Errorf("postgres: get user: %w", err)
	}
	return u, nil
}

// --- Documents ---

func (s *Store) CreateDocument(ctx context.Context, doc recall.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, user_id, source_type, title, source_uri, original_filename, content_text, content_hash, status, metadata, created_at, updated_at, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		doc.ID, doc.UserID, doc.SourceType, doc.Title, doc.SourceURI, doc.OriginalFilename,
		doc.ContentText, doc.ContentHash, doc.Status, rawJSON(doc.Metadata),
		doc.CreatedAt, doc.UpdatedAt, doc.FetchedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, userID, docID string) (recall.Document, error) {
	var d recall.Document
	var meta []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, source_type, title, source_uri, original_filename, content_text, content_hash, status, metadata, created_at, updated_at, ingested_at, fetched_at
		 FROM documents WHERE id = $1 AND user_id = $2`,
		docID, userID).
		Scan(&d.ID, &d.UserID, &d.SourceType, &d.Title, &d.SourceURI, &d.OriginalFilename,
			&d.ContentText, &d.ContentHash, &d.Status, &meta, &d.CreatedAt, &d.UpdatedAt,
			&d.IngestedAt, &d.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return recall.Document{}, recall.Errf(recall.KindNotFound, "document %s", docID)
	}
	if err != nil {
		return recall.Document{}, fmt.Errorf("postgres: get document: %w", err)
	}
	d.Metadata = meta
	return d, nil
}

func (s *Store) ListDocuments(ctx context.Context, userID string, f recall.DocumentFilter) ([]recall.Document, int, error) {
	where := `WHERE user_id = $1`
	args := []any{userID}
	if f.SourceType != "" {
		where += ` AND source_type = $2`
		args = append(args, f.SourceType)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count documents: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	p := len(args)
	query := fmt.Sprintf(
		`SELECT id, user_id, source_type, title, source_uri, original_filename, content_hash, status, metadata, created_at, updated_at, ingested_at, fetched_at
		 FROM documents %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, p+1, p+2)
	rows, err := s.pool.Query(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list documents: %w", err)
	}
	defer rows.Close()

	var docs []recall.Document
	for rows.Next() {
		var d recall.Document
		var meta []byte
		if err := rows.Scan(&d.ID, &d.UserID, &d.SourceType, &d.Title, &d.SourceURI, &d.OriginalFilename,
			&d.ContentHash, &d.Status, &meta, &d.CreatedAt, &d.UpdatedAt,
			&d.IngestedAt, &d.FetchedAt); err != nil {
			return nil, 0, fmt.Errorf("postgres: scan document: %w", err)
		}
		d.Metadata = meta
		docs = append(docs, d)
	}
	return docs, total, rows.Err()
}

// DeleteDocument removes a document; chunks, embeddings, and jobs follow via
// ON DELETE CASCADE.
func (s *Store) DeleteDocument(ctx context.Context, userID, docID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE id = $1 AND user_id = $2`, docID, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recall.Errf(recall.KindNotFound, "document %s", docID)
	}
	return nil
}

func (s *Store) UpdateDocumentExtraction(ctx context.Context, docID, title, contentText string, metadata json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET title = $2, content_text = $3, metadata = $4, updated_at = $5 WHERE id = $1`,
		docID, title, contentText, rawJSON(metadata), recall.NowUnix())
	if err != nil {
		return fmt.Errorf("postgres: update document extraction: %w", err)
	}
	return nil
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, docID string, status recall.DocStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = $3 WHERE id = $1`,
		docID, status, recall.NowUnix())
	if err != nil {
		return fmt.Errorf("postgres: update document status: %w", err)
	}
	return nil
}

// --- Ingestion jobs ---

func (s *Store) CreateJob(ctx context.Context, job recall.IngestionJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_jobs (id, user_id, document_id, source_type, status, stage, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.UserID, job.DocumentID, job.SourceType, job.Status, job.Stage,
		job.Error, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, userID, jobID string) (recall.IngestionJob, error) {
	var j recall.IngestionJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, document_id, source_type, status, stage, error, created_at, updated_at
		 FROM ingestion_jobs WHERE id = $1 AND user_id = $2`,
		jobID, userID).
		Scan(&j.ID, &j.UserID, &j.DocumentID, &j.SourceType, &j.Status, &j.Stage,
			&j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return recall.IngestionJob{}, recall.Errf(recall.KindNotFound, "job %s", jobID)
	}
	if err != nil {
		return recall.IngestionJob{}, fmt.Errorf("postgres: get job: %w", err)
	}
	return j, nil
}

func (s *Store) UpdateJobStage(ctx context.Context, jobID string, stage recall.JobStage) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ingestion_jobs SET stage = $2, updated_at = $3 WHERE id = $1`,
		jobID, stage, recall.NowUnix())
	if err != nil {
		return fmt.Errorf("postgres: update job stage: %w", err)
	}
	return nil
}

// MarkFailed moves the job and its document to failed in one transaction.
func (s *Store) MarkFailed(ctx context.Context, jobID, docID, errMsg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := recall.NowUnix()
	if _, err := tx.Exec(ctx,
		`UPDATE ingestion_jobs SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
		jobID, recall.JobFailed, errMsg, now); err != nil {
		return fmt.Errorf("postgres: fail job: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = $3 WHERE id = $1`,
		docID, recall.DocFailed, now); err != nil {
		return fmt.Errorf("postgres: fail document: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// --- Chunks + embeddings ---

// StoreChunks inserts all chunks and embeddings and flips the document and
// job to completed in a single transaction, so a half-indexed document can
// never look finished.
func (s *Store) StoreChunks(ctx context.Context, docID, jobID string, chunks []recall.Chunk, embeddings []recall.ChunkEmbedding) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (id, document_id, user_id, chunk_index, content, token_count, char_start, char_end,
			                     start_page, end_page, start_time_ms, end_time_ms, source_offset_ms, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			c.ID, c.DocumentID, c.UserID, c.ChunkIndex, c.Content, c.TokenCount, c.CharStart, c.CharEnd,
			c.StartPage, c.EndPage, c.StartTimeMs, c.EndTimeMs, c.SourceOffsetMs, c.CreatedAt); err != nil {
			return fmt.Errorf("postgres: insert chunk: %w", err)
		}
	}
	for _, e := range embeddings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunk_embeddings (id, chunk_id, embedding, embedding_model, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.ID, e.ChunkID, pgvector.NewVector(e.Embedding), e.EmbeddingModel, e.CreatedAt); err != nil {
			return fmt.Errorf("postgres: insert embedding: %w", err)
		}
	}

	now := recall.NowUnix()
	if _, err := tx.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = $3, ingested_at = $3 WHERE id = $1`,
		docID, recall.DocCompleted, now); err != nil {
		return fmt.Errorf("postgres: complete document: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE ingestion_jobs SET status = $2, stage = $3, updated_at = $4 WHERE id = $1`,
		jobID, recall.JobCompleted, recall.StageIndexed, now); err != nil {
		return fmt.Errorf("postgres: complete job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func (s *Store) ListChunks(ctx context.Context, userID, docID string, limit int) ([]recall.Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, user_id, chunk_index, content, token_count, char_start, char_end,
		        start_page, end_page, start_time_ms, end_time_ms, source_offset_ms, created_at
		 FROM chunks WHERE document_id = $1 AND user_id = $2
		 ORDER BY chunk_index LIMIT $3`,
		docID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []recall.Chunk
	for rows.Next() {
		var c recall.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.ChunkIndex, &c.Content, &c.TokenCount,
			&c.CharStart, &c.CharEnd, &c.StartPage, &c.EndPage, &c.StartTimeMs, &c.EndTimeMs,
			&c.SourceOffsetMs, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Search ---

// retrievedColumns is the projection shared by both search arms.
const retrievedColumns = `c.id, c.document_id, c.user_id, c.chunk_index, c.content, c.token_count,
	c.char_start, c.char_end, c.start_page, c.end_page, c.start_time_ms, c.end_time_ms,
	c.source_offset_ms, c.created_at, d.title, d.source_uri, d.source_type`

// temporalClause restricts results to the interval. Audio chunks are placed
// on the wall clock by adding their media offsets to the document creation
// time; chunks without time anchors fall back to document creation time.
// Placeholders $N.. are (startSec, endSec, startMs, endMs).
func temporalClause(p int) string {
	return fmt.Sprintf(` AND (
		(c.start_time_ms IS NOT NULL
			AND d.created_at * 1000 + c.start_time_ms < $%d
			AND d.created_at * 1000 + c.end_time_ms >= $%d)
		OR (c.start_time_ms IS NULL
			AND d.created_at >= $%d AND d.created_at < $%d)
	)`, p+3, p+2, p, p+1)
}

func intervalArgs(iv *recall.Interval) []any {
	return []any{iv.Start.Unix(), iv.End.Unix(), iv.Start.UnixMilli(), iv.End.UnixMilli()}
}

// SearchChunks performs vector similarity search over chunk embeddings
// using pgvector's cosine distance operator with the HNSW index. Only
// chunks of completed documents are visible.
func (s *Store) SearchChunks(ctx context.Context, userID string, embedding []float32, topK int, interval *recall.Interval) ([]recall.RetrievedChunk, error) {
	args := []any{pgvector.NewVector(embedding), userID, topK}
	where := `WHERE c.user_id = $2 AND d.status = 'completed'`
	if interval != nil {
		where += temporalClause(4)
		args = append(args, intervalArgs(interval)...)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+retrievedColumns+`,
		        1 - (e.embedding <=> $1) AS score
		 FROM chunk_embeddings e
		 JOIN chunks c ON c.id = e.chunk_id
		 JOIN documents d ON d.id = c.document_id
		 `+where+`
		 ORDER BY e.embedding <=> $1
		 LIMIT $3`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer rows.Close()
	return scanRetrieved(rows, true)
}

// SearchChunksKeyword performs full-text search over chunk content using
// the generated tsvector column and its GIN index.
func (s *Store) SearchChunksKeyword(ctx context.Context, userID, query string, topK int, interval *recall.Interval) ([]recall.RetrievedChunk, error) {
	args := []any{query, userID, topK}
	where := `WHERE c.user_id = $2 AND d.status = 'completed'
		 AND c.tsv @@ plainto_tsquery('english', $1)`
	if interval != nil {
		where += temporalClause(4)
		args = append(args, intervalArgs(interval)...)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+retrievedColumns+`,
		        ts_rank(c.tsv, plainto_tsquery('english', $1)) AS score
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 `+where+`
		 ORDER BY score DESC
		 LIMIT $3`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search: %w", err)
	}
	defer rows.Close()
	return scanRetrieved(rows, false)
}

// scanRetrieved reads search rows. dense controls which per-signal score
// field receives the raw score.
func scanRetrieved(rows pgx.Rows, dense bool) ([]recall.RetrievedChunk, error) {
	var out []recall.RetrievedChunk
	for rows.Next() {
		var rc recall.RetrievedChunk
		var score float64
		if err := rows.Scan(&rc.Chunk.ID, &rc.Chunk.DocumentID, &rc.Chunk.UserID, &rc.Chunk.ChunkIndex,
			&rc.Chunk.Content, &rc.Chunk.TokenCount, &rc.Chunk.CharStart, &rc.Chunk.CharEnd,
			&rc.Chunk.StartPage, &rc.Chunk.EndPage, &rc.Chunk.StartTimeMs, &rc.Chunk.EndTimeMs,
			&rc.Chunk.SourceOffsetMs, &rc.Chunk.CreatedAt,
			&rc.DocumentTitle, &rc.SourceURI, &rc.SourceType, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan search row: %w", err)
		}
		if dense {
			rc.VectorScore = score
		} else {
			rc.TextScore = score
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context, conv recall.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, userID, convID string) (recall.Conversation, error) {
	var c recall.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE id = $1 AND user_id = $2`,
		convID, userID).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return recall.Conversation{}, recall.Errf(recall.KindNotFound, "conversation %s", convID)
	}
	if err != nil {
		return recall.Conversation{}, fmt.Errorf("postgres: get conversation: %w", err)
	}
	return c, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]recall.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE user_id = $1
		 ORDER BY updated_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
	}
	defer rows.Close()

	var convs []recall.Conversation
	for rows.Next() {
		var c recall.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *Store) DeleteConversation(ctx context.Context, userID, convID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND user_id = $2`, convID, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recall.Errf(recall.KindNotFound, "conversation %s", convID)
	}
	return nil
}

func (s *Store) StoreMessage(ctx context.Context, msg recall.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, citations, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, rawJSON(msg.Citations), msg.CreatedAt); err != nil {
		return fmt.Errorf("postgres: insert message: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = $2 WHERE id = $1`,
		msg.ConversationID, recall.NowUnix()); err != nil {
		return fmt.Errorf("postgres: touch conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// GetMessages returns the most recent limit messages in chronological order.
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int) ([]recall.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, citations, created_at
		 FROM (
		   SELECT id, conversation_id, role, content, citations, created_at
		   FROM messages WHERE conversation_id = $1
		   ORDER BY created_at DESC, id DESC LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: get messages: %w", err)
	}
	defer rows.Close()

	var msgs []recall.Message
	for rows.Next() {
		var m recall.Message
		var citations []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &citations, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Citations = citations
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// rawJSON converts a RawMessage to a driver-friendly value, mapping empty
// to NULL.
func rawJSON(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
