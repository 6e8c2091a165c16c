package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/delivery"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

// ConversationHandler manages the conversation CRUD surface.
type ConversationHandler struct {
	convRepo  repositories.ConversationRepository
	deliverer *delivery.Deliverer
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, deliverer *delivery.Deliverer) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo, deliverer: deliverer}
}

// CreateConversation creates a direct chat, group or channel owned by the caller.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		Kind            string `json:"kind" binding:"required"`
		Name            string `json:"name"`
		Private         bool   `json:"private"`
		CanSendMessages *bool  `json:"can_send_messages"`
		CanSendMedia    bool   `json:"can_send_media"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidKind(req.Kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation kind"})
		return
	}

	userID := c.GetInt("userID")
	canSend := true
	if req.CanSendMessages != nil {
		canSend = *req.CanSendMessages
	}

	conv, err := h.convRepo.CreateConversation(c.Request.Context(), models.Conversation{
		Kind:            models.ConversationKind(req.Kind),
		Name:            req.Name,
		OwnerID:         &userID,
		Private:         req.Private,
		CanSendMessages: canSend,
		CanSendMedia:    req.CanSendMedia,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// ListConversations returns the conversations visible to the caller.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")

	convs, err := h.convRepo.ListConversationsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// JoinConversation enrolls the caller as a member and re-broadcasts the
// participants list to connected sessions.
func (h *ConversationHandler) JoinConversation(c *gin.Context) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if conv.Private {
		if _, err := h.convRepo.GetMembership(c.Request.Context(), conv.ID, userID); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "private conversation requires an invitation"})
			return
		}
	}

	if err := h.convRepo.AddMember(c.Request.Context(), conv.ID, userID, models.RoleMember); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not join conversation"})
		return
	}

	if err := h.deliverer.BroadcastParticipants(c.Request.Context(), conv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "joined but failed to broadcast participants"})
		return
	}

	c.Status(http.StatusNoContent)
}

// LeaveConversation removes a member: callers may remove themselves, the
// owner may remove anyone.
func (h *ConversationHandler) LeaveConversation(c *gin.Context) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}
	memberID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	userID := c.GetInt("userID")

	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}

	isOwner := conv.OwnerID != nil && *conv.OwnerID == userID
	if memberID != userID && !isOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the owner can remove other members"})
		return
	}

	if err := h.convRepo.RemoveMember(c.Request.Context(), conv.ID, memberID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove member"})
		return
	}

	if err := h.deliverer.BroadcastParticipants(c.Request.Context(), conv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "removed but failed to broadcast participants"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListParticipants returns the member list joined with presence.
func (h *ConversationHandler) ListParticipants(c *gin.Context) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if conv.Private {
		if _, err := h.convRepo.GetMembership(c.Request.Context(), conv.ID, userID); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
			return
		}
	}

	participants, err := h.deliverer.Participants(c.Request.Context(), conv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": participants})
}

func conversationIDParam(c *gin.Context) (int, bool) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return conversationID, true
}
