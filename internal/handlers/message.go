package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/delivery"
	"messenger-service/internal/membership"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

// MessageHandler serves the HTTP-side message surface. Creation goes
// through the same delivery path the websocket gateway uses, so a message
// posted over HTTP broadcasts identically to one created live.
type MessageHandler struct {
	convRepo  repositories.ConversationRepository
	msgRepo   repositories.MessageRepository
	schedRepo repositories.ScheduledMessageRepository
	oracle    *membership.Oracle
	deliverer *delivery.Deliverer
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(
	convRepo repositories.ConversationRepository,
	msgRepo repositories.MessageRepository,
	schedRepo repositories.ScheduledMessageRepository,
	oracle *membership.Oracle,
	deliverer *delivery.Deliverer,
) *MessageHandler {
	return &MessageHandler{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		schedRepo: schedRepo,
		oracle:    oracle,
		deliverer: deliverer,
	}
}

// GetMessages returns the conversation's messages ordered by send time.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	conv, ok := h.loadConversation(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	decision, err := h.oracle.Authorize(c.Request.Context(), userID, conv, membership.ActionRead)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for conversation"})
		return
	}

	msgs, err := h.msgRepo.ListMessages(c.Request.Context(), conv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and broadcasts it to connected sessions.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conv, ok := h.loadConversation(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var draft models.MessageDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if draft.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message requires text, image or file"})
		return
	}

	action := membership.ActionWrite
	if draft.HasMedia() {
		action = membership.ActionWriteMedia
	}
	decision, err := h.oracle.Authorize(c.Request.Context(), userID, conv, action)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to send messages here"})
		return
	}

	msg, err := h.deliverer.SendMessage(c.Request.Context(), conv, &userID, draft)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// ScheduleMessage stores a message for future delivery by the sweep.
func (h *MessageHandler) ScheduleMessage(c *gin.Context) {
	conv, ok := h.loadConversation(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var req struct {
		Text          string    `json:"text" binding:"required"`
		ScheduledTime time.Time `json:"scheduled_time" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.ScheduledTime.After(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_time must be in the future"})
		return
	}

	decision, err := h.oracle.Authorize(c.Request.Context(), userID, conv, membership.ActionWrite)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to send messages here"})
		return
	}

	sm, err := h.schedRepo.CreateScheduled(c.Request.Context(), conv.ID, userID, req.Text, req.ScheduledTime)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule message"})
		return
	}

	c.JSON(http.StatusCreated, sm)
}

func (h *MessageHandler) loadConversation(c *gin.Context) (models.Conversation, bool) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return models.Conversation{}, false
	}

	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return models.Conversation{}, false
	}
	return conv, true
}
