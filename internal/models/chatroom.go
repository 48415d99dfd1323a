package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ChatRoom is the durable conversation between exactly two users.
// It holds the transcript and the time-boxed access state of the room.
type ChatRoom struct {
	// RoomID is the unique identifier for the chat room (UUID).
	RoomID string `gorm:"primaryKey" json:"room_id"`
	// UserAID and UserBID hold the pair in canonical order (see NewPair).
	// The composite unique index allows a single room per pair.
	UserAID string `gorm:"column:user_a_id;not null;uniqueIndex:idx_room_pair,priority:1" json:"user_a_id"`
	UserBID string `gorm:"column:user_b_id;not null;uniqueIndex:idx_room_pair,priority:2" json:"user_b_id"`
	// Transcript is a jsonb object keyed by message timestamp.
	Transcript datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"transcript"`
	// RechargeActive switches on the expiry check.
	RechargeActive bool `gorm:"not null;default:false" json:"chat_recharge"`
	// RechargeExpiresAt is the end of the paid window, if any.
	RechargeExpiresAt *time.Time `json:"recharge_expires_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pair returns the room's members.
func (r *ChatRoom) Pair() Pair {
	return Pair{A: r.UserAID, B: r.UserBID}
}

// Entries decodes the stored transcript.
func (r *ChatRoom) Entries() (Transcript, error) {
	t := Transcript{}
	if len(r.Transcript) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(r.Transcript, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// AccessState returns the gate-relevant columns of the room.
func (r *ChatRoom) AccessState() AccessState {
	return AccessState{RechargeActive: r.RechargeActive, ExpiresAt: r.RechargeExpiresAt}
}

// AccessState is the per-room recharge flag and deadline.
type AccessState struct {
	RechargeActive bool       `json:"chat_recharge"`
	ExpiresAt      *time.Time `json:"recharge_expires_at"`
}
