package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	recall "github.com/altanhq/recall"
)

func (s *Server) listDocuments(c *gin.Context) {
	user := currentUser(c)

	filter := recall.DocumentFilter{
		SourceType: recall.SourceType(c.Query("source_type")),
		Limit:      intQuery(c, "limit", 50),
		Offset:     intQuery(c, "offset", 0),
	}
	if filter.SourceType != "" && !filter.SourceType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid source_type"})
		return
	}

	docs, total, err := s.deps.Store.ListDocuments(c.Request.Context(), user.ID, filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if docs == nil {
		docs = []recall.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "total": total})
}

func (s *Server) getDocument(c *gin.Context) {
	user := currentUser(c)
	doc, err := s.deps.Store.GetDocument(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) listChunks(c *gin.Context) {
	user := currentUser(c)
	chunks, err := s.deps.Store.ListChunks(c.Request.Context(), user.ID, c.Param("id"), intQuery(c, "limit", 100))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if chunks == nil {
		chunks = []recall.Chunk{}
	}
	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

func (s *Server) deleteDocument(c *gin.Context) {
	user := currentUser(c)
	if err := s.deps.Store.DeleteDocument(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getJob(c *gin.Context) {
	user := currentUser(c)
	job, err := s.deps.Store.GetJob(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type searchRequest struct {
	Query    string `json:"query" binding:"required"`
	TopK     int    `json:"top_k"`
	Timezone string `json:"timezone"`
}

func (s *Server) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "query is required"})
		return
	}
	user := currentUser(c)

	results, err := s.deps.Retriever.Retrieve(c.Request.Context(), user.ID, req.Query, req.Timezone, req.TopK)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if results == nil {
		results = []recall.RetrievedChunk{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
