package models

import "encoding/json"

// Realtime event names.
const (
	EventJoinRoom       = "join_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventMessageSaved   = "message_saved"
	EventError          = "error_message"
)

// Event is the envelope exchanged over a realtime connection.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an envelope.
func NewEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: data}, nil
}

// JoinRoomPayload is the body of join_room.
type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

// UnmarshalJSON also accepts a bare room id string.
func (p *JoinRoomPayload) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		p.RoomID = id
		return nil
	}
	type plain JoinRoomPayload
	return json.Unmarshal(data, (*plain)(p))
}

// ChatMessage is the body of send_message and receive_message.
type ChatMessage struct {
	RoomID       string `json:"room_id"`
	SenderID     string `json:"sender_id"`
	ReceiverID   string `json:"receiver_id"`
	Text         string `json:"text"`
	Timestamp    string `json:"timestamp"`
	ChatRecharge bool   `json:"chat_recharge"`
}

// ErrorPayload is the body of error_message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// DeliveryReceipt announces that an entry reached the transcript.
type DeliveryReceipt struct {
	RoomID     string `json:"room_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Timestamp  string `json:"timestamp"`
	Entry      Entry  `json:"entry"`
}
