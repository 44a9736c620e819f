package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	recall "github.com/altanhq/recall"
)

// respondError maps error kinds to HTTP status codes. Unknown errors are
// logged and surface as a generic 500 so internals never leak to clients.
func (s *Server) respondError(c *gin.Context, err error) {
	switch recall.KindOf(err) {
	case recall.KindValidation, recall.KindQueryRejected:
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case recall.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	default:
		s.deps.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
	}
}
