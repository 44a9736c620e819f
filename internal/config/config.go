// Package config loads recalld configuration from defaults, a TOML file,
// and environment variables, in that order (env wins).
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Ingest    IngestConfig    `toml:"ingest"`
	Chat      ChatConfig      `toml:"chat"`
	Observer  ObserverConfig  `toml:"observer"`
	Debug     bool            `toml:"debug"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

type LLMConfig struct {
	Model  string `toml:"model"`
	APIKey string `toml:"api_key"`
}

type EmbeddingConfig struct {
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
}

type IngestConfig struct {
	UploadDir      string `toml:"upload_dir"`
	MaxFileSizeMB  int    `toml:"max_file_size_mb"`
	ChunkSize      int    `toml:"chunk_size"`
	ChunkOverlap   int    `toml:"chunk_overlap"`
	WhisperModel   string `toml:"whisper_model"`
	EmbedBatchSize int    `toml:"embed_batch_size"`
}

type ChatConfig struct {
	TopK             int `toml:"top_k"`
	MaxContextTokens int `toml:"max_context_tokens"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:    ServerConfig{ListenAddr: ":8080"},
		Database:  DatabaseConfig{URL: "postgres://localhost:5432/recall"},
		LLM:       LLMConfig{Model: "gpt-4o-mini"},
		Embedding: EmbeddingConfig{Model: "text-embedding-3-small", Dimensions: 1536},
		Ingest: IngestConfig{
			UploadDir:      "uploads",
			MaxFileSizeMB:  50,
			ChunkSize:      512,
			ChunkOverlap:   50,
			WhisperModel:   "whisper-1",
			EmbedBatchSize: 64,
		},
		Chat: ChatConfig{TopK: 5, MaxContextTokens: 4000},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "recall.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("RECALL_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("RECALL_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("RECALL_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("RECALL_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("RECALL_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("RECALL_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("RECALL_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("RECALL_UPLOAD_DIR"); v != "" {
		cfg.Ingest.UploadDir = v
	}
	if os.Getenv("RECALL_OBSERVER_ENABLED") == "true" || os.Getenv("RECALL_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}
	if os.Getenv("RECALL_DEBUG") == "true" || os.Getenv("RECALL_DEBUG") == "1" {
		cfg.Debug = true
	}

	// Fallbacks
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	cfg.Database.URL = NormalizeDatabaseURL(cfg.Database.URL)

	return cfg
}

// NormalizeDatabaseURL rewrites SQLAlchemy-style schemes such as
// postgresql+asyncpg:// and postgresql:// to the postgres:// form pgx
// expects. Other URLs pass through unchanged.
func NormalizeDatabaseURL(u string) string {
	if i := strings.Index(u, "://"); i > 0 {
		scheme := u[:i]
		if j := strings.Index(scheme, "+"); j > 0 {
			scheme = scheme[:j]
		}
		if scheme == "postgresql" {
			scheme = "postgres"
		}
		return scheme + u[i:]
	}
	return u
}
