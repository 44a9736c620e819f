package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	recall "github.com/altanhq/recall"
)

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message" binding:"required"`
	Timezone       string `json:"timezone"`
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "message is required"})
		return
	}
	user := currentUser(c)

	answer, err := s.deps.Answerer.Answer(c.Request.Context(), user.ID, req.ConversationID, req.Message, req.Timezone)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// sseEvent is the wire shape of one stream event. Type is one of
// start, token, citations, done, error.
type sseEvent struct {
	Type           string            `json:"type"`
	Token          string            `json:"token,omitempty"`
	Citations      []recall.Citation `json:"citations,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`
	Detail         string            `json:"detail,omitempty"`
}

func (s *Server) chatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "message is required"})
		return
	}
	user := currentUser(c)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	type streamResult struct {
		answer recall.Answer
		err    error
	}
	ch := make(chan recall.StreamEvent, 64)
	resCh := make(chan streamResult, 1)
	go func() {
		ans, err := s.deps.Answerer.AnswerStream(c.Request.Context(), user.ID, req.ConversationID, req.Message, req.Timezone, ch)
		resCh <- streamResult{ans, err}
	}()

	// Frame order: start, citations, token*, done. The answerer emits the
	// citations event ahead of the first token.
	s.writeSSE(c, sseEvent{Type: "start"})
	for ev := range ch {
		if ev.Citations != nil {
			s.writeSSE(c, sseEvent{Type: "citations", Citations: ev.Citations})
			continue
		}
		s.writeSSE(c, sseEvent{Type: "token", Token: ev.Token})
	}

	res := <-resCh
	if res.err != nil {
		s.deps.Logger.Error("chat stream failed", "error", res.err)
		detail := "internal error"
		switch recall.KindOf(res.err) {
		case recall.KindValidation, recall.KindQueryRejected:
			detail = res.err.Error()
		}
		s.writeSSE(c, sseEvent{Type: "error", Detail: detail})
		return
	}

	s.writeSSE(c, sseEvent{
		Type:           "done",
		ConversationID: res.answer.ConversationID,
		MessageID:      res.answer.MessageID,
	})
}

// writeSSE emits one event as a data-only SSE frame and flushes it.
func (s *Server) writeSSE(c *gin.Context, ev sseEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
	c.Writer.Flush()
}

func (s *Server) listConversations(c *gin.Context) {
	user := currentUser(c)
	convs, err := s.deps.Store.ListConversations(c.Request.Context(), user.ID, intQuery(c, "limit", 50))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if convs == nil {
		convs = []recall.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) getConversation(c *gin.Context) {
	user := currentUser(c)
	conv, err := s.deps.Store.GetConversation(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	msgs, err := s.deps.Store.GetMessages(c.Request.Context(), conv.ID, intQuery(c, "limit", 100))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []recall.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
}

func (s *Server) deleteConversation(c *gin.Context) {
	user := currentUser(c)
	if err := s.deps.Store.DeleteConversation(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
