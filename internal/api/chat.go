package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/store"
)

// ChatHandler serves the conversation and message endpoints read by the
// dashboards.
type ChatHandler struct {
	store    store.Store
	tenantID string
	log      zerolog.Logger
}

func NewChatHandler(st store.Store, tenantID string, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{store: st, tenantID: tenantID, log: log}
}

// conversation loads the conversation named by :id and writes a 404 when it
// does not belong to this tenant.
func (h *ChatHandler) conversation(c *gin.Context) (*models.Conversation, bool) {
	conv, err := h.store.GetConversation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.TenantID != h.tenantID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", c.Param("id")).Msg("load conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch conversation"})
		return nil, false
	}
	return conv, true
}

// GetConversations lists the tenant's conversations, most recent first.
func (h *ChatHandler) GetConversations(c *gin.Context) {
	conversations, err := h.store.ListConversations(c.Request.Context(), h.tenantID)
	if err != nil {
		h.log.Error().Err(err).Msg("list conversations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch conversations"})
		return
	}
	c.JSON(http.StatusOK, conversations)
}

// GetMessages returns a conversation's messages in chronological order,
// optionally restricted to one sender_type.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	senderType := c.Query("sender_type")
	if senderType != "" && senderType != models.SenderContact && senderType != models.SenderAgent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender_type must be contact or agent"})
		return
	}

	conv, ok := h.conversation(c)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(c.Request.Context(), store.MessageFilter{
		ConversationID: conv.ID,
		SenderType:     senderType,
	})
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

// SendMessage stores an agent reply in a conversation.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.MediaURL == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message must have content or media_url"})
		return
	}

	conv, ok := h.conversation(c)
	if !ok {
		return
	}

	msg := &models.Message{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		SenderType:     models.SenderAgent,
		Channel:        conv.Channel,
		ContentType:    req.ContentType,
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		ExternalID:     req.ExternalID,
		Status:         models.DeliverySent,
		CreatedAt:      time.Now().UTC(),
	}
	if msg.ContentType == "" {
		msg.ContentType = models.ContentText
	}
	if msg.ExternalID == "" {
		msg.ExternalID = "agent:" + uuid.NewString()
	}

	err := h.store.InsertMessage(c.Request.Context(), msg)
	switch {
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Message with this external_id already exists"})
		return
	case err != nil:
		h.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("insert agent message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead stamps read_at on the given messages.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	var req models.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.store.MarkMessagesRead(c.Request.Context(), req.IDs, time.Now().UTC())
	if err != nil {
		h.log.Error().Err(err).Int("ids", len(req.IDs)).Msg("mark messages read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark messages as read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	err := h.store.DeleteMessage(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
	case err != nil:
		h.log.Error().Err(err).Str("message_id", c.Param("id")).Msg("delete message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete message"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
	}
}

// DeleteConversation removes a conversation together with its messages.
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	if err := h.store.DeleteConversation(c.Request.Context(), conv.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("delete conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
}
