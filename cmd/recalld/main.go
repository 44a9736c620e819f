package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	recall "github.com/altanhq/recall"
	"github.com/altanhq/recall/ingest"
	"github.com/altanhq/recall/internal/config"
	"github.com/altanhq/recall/internal/server"
	"github.com/altanhq/recall/observer"
	"github.com/altanhq/recall/provider/openai"
	"github.com/altanhq/recall/store/postgres"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("RECALL_CONFIG"))

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := context.Background()

	// 2. Observability (optional)
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			log.Fatal("observer init: ", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	// 3. Store
	pool, err := postgres.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal("database: ", err)
	}
	defer pool.Close()

	store := postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions))
	if err := store.Init(ctx); err != nil {
		log.Fatal("database init: ", err)
	}

	// 4. Providers
	var chatLLM recall.Provider = openai.New(cfg.LLM.APIKey, cfg.LLM.Model)
	var embedding recall.EmbeddingProvider = openai.NewEmbedding(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	transcriber := openai.NewTranscriber(cfg.LLM.APIKey, cfg.Ingest.WhisperModel)

	if inst != nil {
		chatLLM = observer.WrapProvider(chatLLM, cfg.LLM.Model, inst)
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
	}
	chatLLM = recall.WithRetry(chatLLM, recall.RetryLogger(logger))
	embedding = recall.WithEmbeddingRetry(embedding, recall.RetryLogger(logger))

	// 5. Tokenizer (approximate fallback if the encoding is unavailable)
	var tokens recall.TokenCounter
	if tk, err := recall.NewTokenizer(); err != nil {
		logger.Warn("tokenizer unavailable, using approximate counts", "error", err)
		tokens = recall.ApproxTokenCounter{}
	} else {
		tokens = tk
	}

	// 6. Ingestion pipeline
	chunker := ingest.NewTextChunker(
		ingest.WithMaxTokens(cfg.Ingest.ChunkSize),
		ingest.WithOverlapTokens(cfg.Ingest.ChunkOverlap),
		ingest.WithTokenCounter(tokens),
	)
	pipeline := ingest.NewPipeline(store, embedding,
		ingest.WithChunker(chunker),
		ingest.WithExtractor(recall.SourceAudio, ingest.NewAudioExtractor(transcriber)),
		ingest.WithUploadDir(cfg.Ingest.UploadDir),
		ingest.WithMaxFileBytes(int64(cfg.Ingest.MaxFileSizeMB)<<20),
		ingest.WithBatchSize(cfg.Ingest.EmbedBatchSize),
		ingest.WithEmbeddingModel(cfg.Embedding.Model),
		ingest.WithLogger(logger),
	)

	// 7. Retrieval + answering
	var retriever recall.Retriever = recall.NewEngine(store, embedding)
	if inst != nil {
		retriever = observer.WrapRetriever(retriever, inst)
	}
	answerer := recall.NewAnswerer(store, retriever, chatLLM, tokens,
		recall.WithAnswerTopK(cfg.Chat.TopK),
		recall.WithContextBudget(cfg.Chat.MaxContextTokens),
	)

	// 8. HTTP server
	srv := server.New(server.Deps{
		Store:       store,
		Pipeline:    pipeline,
		Retriever:   retriever,
		Answerer:    answerer,
		Logger:      logger,
		Instruments: inst,
	}, server.WithDebug(cfg.Debug))

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server: ", err)
		}
	}()

	// 9. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Fatal("shutdown: ", err)
	}
	logger.Info("server exited")
}
