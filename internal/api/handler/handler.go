// Package handler exposes the chat pipeline over HTTP and WebSocket.
package handler

import (
	"context"
	"time"

	"gigchat/backend/internal/chathub"
	"gigchat/backend/internal/models"

	"github.com/rs/zerolog"
)

// RoomResolver returns the room of a user pair, creating it on first use.
type RoomResolver interface {
	Resolve(ctx context.Context, userA, userB string) (string, error)
}

// Recharger opens a room's paid window.
type Recharger interface {
	Recharge(ctx context.Context, roomID string) (time.Time, error)
}

// ConversationStore is the read side used by the conversation endpoints.
type ConversationStore interface {
	GetKnownContacts(ctx context.Context, userID string) ([]models.User, error)
	GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error)
	GetRoomByPair(ctx context.Context, pair models.Pair) (*models.ChatRoom, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Hub      *chathub.ManagerService
	Resolver RoomResolver
	Gate     Recharger
	Store    ConversationStore
	Tokens   *TokenManager
	Health   Pinger
	Now      func() time.Time
	logger   zerolog.Logger
}

func NewHandler(hub *chathub.ManagerService, resolver RoomResolver, gate Recharger, store ConversationStore, tokens *TokenManager, logger zerolog.Logger) *Handler {
	return &Handler{
		Hub:      hub,
		Resolver: resolver,
		Gate:     gate,
		Store:    store,
		Tokens:   tokens,
		Now:      time.Now,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}
