// Package resolver maps an unordered pair of users to their single chat room.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"gigchat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrInvalidPair = errors.New("a room needs two distinct user ids")

// RoomStore is the part of storage.Storage the resolver needs.
type RoomStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	AddKnownContact(ctx context.Context, userID, contactID string) error
	ResolveRoom(ctx context.Context, pair models.Pair, candidateID string) (string, bool, error)
}

// Service resolves rooms and keeps the known-contacts sets symmetric.
type Service struct {
	Store  RoomStore
	NewID  func() string
	logger zerolog.Logger
}

func NewService(store RoomStore, logger zerolog.Logger) *Service {
	return &Service{
		Store:  store,
		NewID:  uuid.NewString,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the room shared by userA and userB, creating it on first
// contact. Calling it again, in either argument order or concurrently,
// returns the same id. Both users end up in each other's contact set even
// when the room already existed.
func (s *Service) Resolve(ctx context.Context, userA, userB string) (string, error) {
	if userA == "" || userB == "" || userA == userB {
		return "", ErrInvalidPair
	}

	for _, id := range []string{userA, userB} {
		if _, err := s.Store.GetUserByID(ctx, id); err != nil {
			return "", fmt.Errorf("lookup user %s: %w", id, err)
		}
	}

	pair := models.NewPair(userA, userB)
	roomID, created, err := s.Store.ResolveRoom(ctx, pair, s.NewID())
	if err != nil {
		return "", fmt.Errorf("resolve room: %w", err)
	}
	if created {
		s.logger.Info().Str("room_id", roomID).Str("user_a", pair.A).Str("user_b", pair.B).Msg("room created")
	}

	if err := s.Store.AddKnownContact(ctx, userA, userB); err != nil {
		return "", fmt.Errorf("add contact %s to %s: %w", userB, userA, err)
	}
	if err := s.Store.AddKnownContact(ctx, userB, userA); err != nil {
		return "", fmt.Errorf("add contact %s to %s: %w", userA, userB, err)
	}

	return roomID, nil
}
