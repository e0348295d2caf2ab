package handlers

import (
	"fmt"
	"log"
	"net/http"

	"policychat-backend/models"
	"policychat-backend/service"

	"github.com/gin-gonic/gin"
)

// ChatRequest is the body accepted by both chat endpoints.
type ChatRequest struct {
	Question string               `json:"question" binding:"required"`
	History  []models.ChatMessage `json:"history"`
}

// ChatHandler handles HTTP requests for question answering
type ChatHandler struct {
	chat *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Chat handles POST /api/chat, streaming the answer as plain text.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	wrote := false
	err := h.chat.AnswerStream(c.Request.Context(), req.Question, req.History, func(fragment string) error {
		if _, err := c.Writer.WriteString(fragment); err != nil {
			return err
		}
		c.Writer.Flush()
		wrote = true
		return nil
	})
	if err != nil {
		log.Printf("Streaming chat failed: %v", err)
		if !wrote {
			// Nothing sent yet, so a proper error response is still possible.
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CHAT_FAILED",
					"message": fmt.Sprintf("Failed to answer question: %v", err),
				},
			})
		}
		return
	}

	c.Status(http.StatusOK)
}

// ChatBlocking handles POST /api/chat/blocking, returning the complete
// answer in one JSON response.
func (h *ChatHandler) ChatBlocking(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	answer, err := h.chat.Answer(c.Request.Context(), req.Question, req.History)
	if err != nil {
		log.Printf("Blocking chat failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CHAT_FAILED",
				"message": fmt.Sprintf("Failed to answer question: %v", err),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"answer": answer,
		},
	})
}
