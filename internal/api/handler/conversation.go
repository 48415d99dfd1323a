package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gigchat/backend/internal/gate"
	"gigchat/backend/internal/models"
	"gigchat/backend/internal/resolver"
	"gigchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type checkChatRequest struct {
	User1 string `json:"user1" binding:"required"`
	User2 string `json:"user2" binding:"required"`
}

type rechargeRequest struct {
	RoomID string `json:"room_id" binding:"required"`
}

type transcriptResponse struct {
	RoomID            string              `json:"room_id"`
	ReceiverID        string              `json:"receiver_id"`
	Access            string              `json:"access"`
	RechargeActive    bool                `json:"recharge_active"`
	RechargeExpiresAt *time.Time          `json:"recharge_expires_at"`
	Messages          []models.TimedEntry `json:"messages"`
}

// CheckChat resolves the room of two users, creating it on first contact.
// The caller must be one of them.
func (h *Handler) CheckChat(c *gin.Context) {
	var req checkChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user1 and user2 are required"})
		return
	}
	caller := currentUser(c)
	if caller != req.User1 && caller != req.User2 {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only open your own chats"})
		return
	}

	roomID, err := h.Resolver.Resolve(c.Request.Context(), req.User1, req.User2)
	switch {
	case errors.Is(err, resolver.ErrInvalidPair):
		c.JSON(http.StatusBadRequest, gin.H{"error": "A chat needs two different users"})
	case errors.Is(err, storage.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case err != nil:
		h.logger.Error().Err(err).Str("user1", req.User1).Str("user2", req.User2).Msg("room resolution failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open chat"})
	default:
		c.JSON(http.StatusOK, gin.H{"room_id": roomID})
	}
}

// ListConversations returns the caller's known contacts.
func (h *Handler) ListConversations(c *gin.Context) {
	contacts, err := h.Store.GetKnownContacts(c.Request.Context(), currentUser(c))
	if errors.Is(err, storage.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("load contacts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversations"})
		return
	}
	if contacts == nil {
		contacts = []models.User{}
	}
	c.JSON(http.StatusOK, contacts)
}

// GetConversation returns the transcript shared with receiverId in
// timestamp order. A pair without a room yet has an empty transcript.
func (h *Handler) GetConversation(c *gin.Context) {
	caller := currentUser(c)
	receiverID := strings.TrimSpace(c.Param("receiverId"))
	if receiverID == "" || receiverID == caller {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid receiver"})
		return
	}

	resp := transcriptResponse{ReceiverID: receiverID, Access: gate.Open.String(), Messages: []models.TimedEntry{}}

	room, err := h.Store.GetRoomByPair(c.Request.Context(), models.NewPair(caller, receiverID))
	if errors.Is(err, storage.ErrRoomNotFound) {
		c.JSON(http.StatusOK, resp)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("receiver_id", receiverID).Msg("load room failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
		return
	}

	entries, err := room.Entries()
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", room.RoomID).Msg("transcript unreadable")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
		return
	}

	state := room.AccessState()
	resp.RoomID = room.RoomID
	resp.Access = gate.Evaluate(state, h.Now()).String()
	resp.RechargeActive = state.RechargeActive
	resp.RechargeExpiresAt = state.ExpiresAt
	resp.Messages = entries.Sorted()
	c.JSON(http.StatusOK, resp)
}

// Recharge opens the room's paid window for the configured duration.
func (h *Handler) Recharge(c *gin.Context) {
	var req rechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id is required"})
		return
	}
	ctx := c.Request.Context()

	room, err := h.Store.GetRoomByID(ctx, req.RoomID)
	if errors.Is(err, storage.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", req.RoomID).Msg("load room failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to recharge chat"})
		return
	}
	if !room.Pair().Contains(currentUser(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only recharge your own chats"})
		return
	}

	expiresAt, err := h.Gate.Recharge(ctx, req.RoomID)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", req.RoomID).Msg("recharge failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to recharge chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": req.RoomID, "recharge_active": true, "recharge_expires_at": expiresAt})
}

// Healthz reports whether the backends answer.
func (h *Handler) Healthz(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
