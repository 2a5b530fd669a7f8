package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	chatdomain "github.com/atelierhq/atelier/internal/chat/domain"
	"github.com/atelierhq/atelier/internal/orgcontext"
)

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []chatdomain.Message `json:"messages" binding:"required"`
}

// StreamChat streams model output to the client as server-sent events and
// finishes with a usage event carrying the reconciled charge.
func (s *Server) StreamChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	userID, ok := orgcontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	orgID, _ := orgcontext.OrgIDFromContext(c.Request.Context())

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	wroteChunk := false
	sink := func(chunk string) error {
		payload, err := json.Marshal(gin.H{"content": chunk})
		if err != nil {
			return err
		}
		if _, err := c.Writer.WriteString("data: " + string(payload) + "\n\n"); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		wroteChunk = true
		return nil
	}

	result, err := s.chatSvc.StreamCompletion(c.Request.Context(), chatdomain.StreamRequest{
		UserID:   userID,
		OrgID:    orgID,
		Model:    req.Model,
		Messages: req.Messages,
		Sink:     sink,
	})
	if err != nil {
		// Headers are gone once the first chunk flushed; mid-stream errors
		// surface as a terminal event instead of a status code.
		if !wroteChunk {
			AbortWithError(c, err)
			return
		}
		payload, _ := json.Marshal(gin.H{"error": err.Error()})
		_, _ = c.Writer.WriteString("data: " + string(payload) + "\n\n")
		return
	}

	payload, _ := json.Marshal(gin.H{
		"usage":             result.Usage,
		"estimated_credits": result.EstimatedCredits,
		"charged_credits":   result.ChargedCredits,
		"cancelled":         result.Cancelled,
	})
	_, _ = c.Writer.WriteString("data: " + string(payload) + "\n\n")
	_, _ = c.Writer.WriteString("data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
