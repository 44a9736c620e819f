package recall

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Retriever searches the knowledge base and returns ranked chunks.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query, timezone string, topK int) ([]RetrievedChunk, error)
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	vectorWeight        float64
	textWeight          float64
	overfetchMultiplier int
	now                 func() time.Time
}

// WithWeights sets the fusion weights for the dense (vector) and sparse
// (text) signals. Defaults are 0.7 and 0.3.
func WithWeights(vector, text float64) EngineOption {
	return func(c *engineConfig) {
		c.vectorWeight = vector
		c.textWeight = text
	}
}

// WithOverfetchMultiplier sets the candidate over-fetch factor. Each search
// arm fetches topK * multiplier candidates before fusion. Default is 3.
func WithOverfetchMultiplier(n int) EngineOption {
	return func(c *engineConfig) { c.overfetchMultiplier = n }
}

// withNow pins the clock for temporal parsing. Test hook.
func withNow(fn func() time.Time) EngineOption {
	return func(c *engineConfig) { c.now = fn }
}

// Engine is the hybrid retrieval engine: temporal expression extraction,
// dense and sparse search run concurrently, weighted linear score fusion.
type Engine struct {
	store     Store
	embedding EmbeddingProvider
	cfg       engineConfig
}

var _ Retriever = (*Engine)(nil)

// NewEngine creates the hybrid retrieval engine.
func NewEngine(store Store, embedding EmbeddingProvider, opts ...EngineOption) *Engine {
	cfg := engineConfig{
		vectorWeight:        0.7,
		textWeight:          0.3,
		overfetchMultiplier: 3,
		now:                 time.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Engine{store: store, embedding: embedding, cfg: cfg}
}

// Retrieve runs the full query path for one user. A temporal expression in
// the query ("last tuesday", "in march") is stripped and becomes a search
// filter; the residual text drives both search arms. Sparse search failure
// degrades to dense-only results rather than failing the query.
func (e *Engine) Retrieve(ctx context.Context, userID, query, timezone string, topK int) ([]RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, Errf(KindQueryRejected, "empty query")
	}
	if topK <= 0 {
		topK = 10
	}

	now := e.cfg.now().In(LoadLocation(timezone))
	cleaned, interval := ExtractTemporal(query, now)
	if cleaned == "" {
		// Purely temporal query ("what happened yesterday" reduced to
		// nothing useful). Fall back to the original text.
		cleaned = query
	}

	embs, err := e.embedding.Embed(ctx, []string{cleaned})
	if err != nil {
		return nil, Wrap(KindEmbedding, err, "embed query")
	}
	if len(embs) == 0 {
		return nil, Errf(KindEmbedding, "no embedding returned")
	}

	fetchK := max(topK*e.cfg.overfetchMultiplier, topK)

	var dense, sparse []RetrievedChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dense, err = e.store.SearchChunks(gctx, userID, embs[0], fetchK, interval)
		if err != nil {
			return Wrap(KindStorage, err, "vector search")
		}
		return nil
	})
	g.Go(func() error {
		// Sparse failure is not fatal; dense results still serve.
		sparse, _ = e.store.SearchChunksKeyword(gctx, userID, cleaned, fetchK, interval)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := fuseScores(dense, sparse, e.cfg.vectorWeight, e.cfg.textWeight)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// fuseScores merges dense and sparse candidates by chunk ID with a weighted
// linear combination. Dense scores are cosine similarity in [0,1]; sparse
// ts_rank values are squashed with min(rank*10, 1) before weighting.
// Returned results are sorted by fused score descending, ties broken by
// chunk ID for determinism.
func fuseScores(dense, sparse []RetrievedChunk, vectorWeight, textWeight float64) []RetrievedChunk {
	merged := make(map[string]*RetrievedChunk)
	order := make([]string, 0, len(dense)+len(sparse))

	for _, rc := range dense {
		c := rc
		c.TextScore = 0
		merged[c.Chunk.ID] = &c
		order = append(order, c.Chunk.ID)
	}
	for _, rc := range sparse {
		norm := min(rc.TextScore*10, 1.0)
		if e, ok := merged[rc.Chunk.ID]; ok {
			e.TextScore = norm
			continue
		}
		c := rc
		c.VectorScore = 0
		c.TextScore = norm
		merged[c.Chunk.ID] = &c
		order = append(order, c.Chunk.ID)
	}

	results := make([]RetrievedChunk, 0, len(merged))
	for _, id := range order {
		e := merged[id]
		e.Score = vectorWeight*e.VectorScore + textWeight*e.TextScore
		results = append(results, *e)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	return results
}
