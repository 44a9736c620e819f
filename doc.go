// Package recall is a personal knowledge base: it ingests text, markdown,
// PDFs, web pages, and audio into an embedded, searchable index, and answers
// questions over that index with cited, grounded replies.
//
// # Quick Start
//
// Wire the store, providers, and services together:
//
//	pool, _ := postgres.NewPool(ctx, databaseURL)
//	store := postgres.New(pool, postgres.WithEmbeddingDimension(1536))
//
//	chat := openai.New(apiKey, "gpt-4o-mini")
//	embedding := openai.NewEmbedding(apiKey, "text-embedding-3-small", 1536)
//
//	pipeline := ingest.NewPipeline(store, embedding)
//	retriever := recall.NewEngine(store, embedding)
//	answerer := recall.NewAnswerer(store, retriever, chat, tokens)
//
//	job, err := pipeline.IngestText(ctx, userID, ingest.TextInput{Text: "..."})
//	answer, err := answerer.Answer(ctx, userID, "", "what did I read yesterday", "UTC")
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Store] — persistence: documents, chunks, embeddings, conversations
//   - [Provider] — LLM backend (chat, streaming)
//   - [EmbeddingProvider] — text-to-vector embedding
//   - [Transcriber] — speech-to-text with segment timestamps
//   - [Retriever] — hybrid dense/sparse search with temporal filtering
//   - [TokenCounter] — token metering for chunking and context budgets
//
// # Included Implementations
//
// Providers: provider/openai (chat, embeddings, Whisper transcription).
// Storage: store/postgres (pgvector similarity plus tsvector full text).
// Ingestion: the ingest package (extraction, chunking, staged pipeline).
//
// The cmd/recalld directory holds the HTTP server binary.
package recall
