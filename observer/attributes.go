package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrStreamChunks = attribute.Key("llm.stream_chunks")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrRetrievalTopK     = attribute.Key("retrieval.top_k")
	AttrRetrievalResults  = attribute.Key("retrieval.results")
	AttrRetrievalTemporal = attribute.Key("retrieval.temporal_filter")

	AttrIngestSourceType = attribute.Key("ingest.source_type")
	AttrIngestStatus     = attribute.Key("ingest.status")
)
