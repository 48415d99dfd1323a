package models

import "time"

// QueueJob is one unit of work for the persistence worker. It carries the
// whole batch so that the merge never needs to look up the sender again.
type QueueJob struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"room_id"`
	SenderID   string     `json:"sender_id"`
	ReceiverID string     `json:"receiver_id"`
	CreatedAt  time.Time  `json:"created_at"`
	Entries    Transcript `json:"entries"`
	// Attempt is the delivery count reported by the queue, starting at 1.
	Attempt int `json:"-"`
}

// Pair returns the canonical sender/receiver pair of the job.
func (j QueueJob) Pair() Pair {
	return NewPair(j.SenderID, j.ReceiverID)
}
