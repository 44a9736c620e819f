// Package server exposes the HTTP API: ingestion, document management,
// search, and chat with SSE streaming.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	recall "github.com/altanhq/recall"
	"github.com/altanhq/recall/ingest"
	"github.com/altanhq/recall/observer"
)

// Deps carries everything the HTTP handlers need.
type Deps struct {
	Store     recall.Store
	Pipeline  *ingest.Pipeline
	Retriever recall.Retriever
	Answerer  *recall.Answerer
	Logger    *slog.Logger

	// Instruments is optional; when nil ingestion metrics are skipped.
	Instruments *observer.Instruments
}

// Server wires the gin router to the application services.
type Server struct {
	deps  Deps
	debug bool
}

// Option configures a Server.
type Option func(*Server)

// WithDebug enables gin debug mode and verbose logging.
func WithDebug(debug bool) Option {
	return func(s *Server) { s.debug = debug }
}

// New creates a Server. Deps.Store, Pipeline, Retriever, and Answerer are
// required; Logger defaults to slog.Default().
func New(deps Deps, opts ...Option) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	if !s.debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-User-Email"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   "recall",
		})
	})

	api := r.Group("/api")
	api.Use(s.identity())
	{
		api.POST("/ingest/text", s.ingestText)
		api.POST("/ingest/url", s.ingestURL)
		api.POST("/ingest/file", s.ingestFile)
		api.GET("/ingest/jobs/:id", s.getJob)

		api.GET("/documents", s.listDocuments)
		api.GET("/documents/:id", s.getDocument)
		api.GET("/documents/:id/chunks", s.listChunks)
		api.DELETE("/documents/:id", s.deleteDocument)

		api.POST("/search", s.search)

		api.POST("/chat", s.chat)
		api.POST("/chat/stream", s.chatStream)

		api.GET("/conversations", s.listConversations)
		api.GET("/conversations/:id", s.getConversation)
		api.DELETE("/conversations/:id", s.deleteConversation)
	}

	return r
}
