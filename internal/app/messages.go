package app

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 500
)

type createMessageRequest struct {
	Content   string     `json:"content"`
	StudentID *uuid.UUID `json:"student_id"`
}

// GET /api/messages?student_id=&limit=
// Students always read their own conversation; staff must name one.
func (a *App) ListMessagesHandler(c *gin.Context) {
	p := currentProfile(c)
	target := p.ID
	if isStaff(p) {
		id, err := uuid.Parse(c.Query("student_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_id is required"})
			return
		}
		target = id
	}

	limit := defaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxMessageLimit)
	}

	messages, err := a.Store.ListMessages(c.Request.Context(), target, limit)
	if err != nil {
		a.Logger.Error("Failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	if messages == nil {
		messages = []Message{}
	}
	c.JSON(http.StatusOK, messages)
}

// POST /api/messages
func (a *App) CreateMessageHandler(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message cannot be empty"})
		return
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is too long (max 5000 characters)"})
		return
	}

	p := currentProfile(c)
	studentID := p.ID
	if isStaff(p) {
		if req.StudentID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_id is required"})
			return
		}
		studentID = *req.StudentID
	}

	m := &Message{StudentID: studentID, AuthorID: p.ID, Content: content}
	if err := a.Store.CreateMessage(c.Request.Context(), m); err != nil {
		a.Logger.Error("Failed to send message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}
	c.JSON(http.StatusCreated, m)
}
