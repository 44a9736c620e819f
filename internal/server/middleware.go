package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	recall "github.com/altanhq/recall"
)

// DefaultUserEmail is the identity used when no X-User-Email header is sent.
// This is a single-user system; the header exists so multiple identities can
// share one deployment without real authentication.
const DefaultUserEmail = "demo@secondbrain.app"

const userKey = "user"

// identity resolves the caller to a user record from the X-User-Email
// header, creating the user on first sight.
func (s *Server) identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.GetHeader("X-User-Email")
		if email == "" {
			email = DefaultUserEmail
		}
		user, err := s.deps.Store.GetOrCreateUser(c.Request.Context(), email)
		if err != nil {
			s.deps.Logger.Error("resolve user", "email", email, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "failed to resolve user"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// currentUser returns the user set by the identity middleware.
func currentUser(c *gin.Context) recall.User {
	return c.MustGet(userKey).(recall.User)
}
