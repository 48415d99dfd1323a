// Package gate implements the per-room, time-boxed permission to accept new
// chat messages.
package gate

import (
	"context"
	"errors"
	"time"

	"gigchat/backend/internal/models"
	"gigchat/backend/internal/storage"

	"github.com/rs/zerolog"
)

// State is the outcome of a gate check.
type State int

const (
	Open State = iota
	Blocked
)

func (s State) String() string {
	if s == Blocked {
		return "blocked"
	}
	return "open"
}

// AccessStore is the part of storage.Storage the gate needs.
type AccessStore interface {
	Recharge(ctx context.Context, roomID string, expiresAt time.Time) error
	GetAccessState(ctx context.Context, roomID string) (models.AccessState, error)
}

// Gate decides whether a room may accept new messages.
type Gate struct {
	Store  AccessStore
	Window time.Duration
	Now    func() time.Time
	logger zerolog.Logger
}

// New creates a gate with the given recharge window.
func New(store AccessStore, window time.Duration, logger zerolog.Logger) *Gate {
	return &Gate{
		Store:  store,
		Window: window,
		Now:    time.Now,
		logger: logger.With().Str("component", "gate").Logger(),
	}
}

// Evaluate maps an access state to a gate state at instant now. A room is
// blocked only when recharge is active and now is strictly after the
// deadline; the deadline itself is still open.
func Evaluate(s models.AccessState, now time.Time) State {
	if s.RechargeActive && s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
		return Blocked
	}
	return Open
}

// Check reads the room's access state without modifying it. A room that has
// no row yet has never been recharged and is open.
func (g *Gate) Check(ctx context.Context, roomID string) (State, error) {
	state, err := g.Store.GetAccessState(ctx, roomID)
	if errors.Is(err, storage.ErrRoomNotFound) {
		return Open, nil
	}
	if err != nil {
		return Blocked, err
	}
	return Evaluate(state, g.Now()), nil
}

// Recharge opens the room for a fresh window and returns the new deadline.
func (g *Gate) Recharge(ctx context.Context, roomID string) (time.Time, error) {
	expiresAt := g.Now().Add(g.Window)
	if err := g.Store.Recharge(ctx, roomID, expiresAt); err != nil {
		return time.Time{}, err
	}
	g.logger.Info().Str("room_id", roomID).Time("expires_at", expiresAt).Msg("room recharged")
	return expiresAt, nil
}
