package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gigchat/backend/internal/models"
)

var ErrMalformedEvent = errors.New("malformed event")

// HandleEvent dispatches one client event. Failures are reported to the
// sender as error_message and never close the connection.
func (m *ManagerService) HandleEvent(ctx context.Context, c Client, ev models.Event) {
	var err error
	switch ev.Name {
	case models.EventJoinRoom:
		var p models.JoinRoomPayload
		if err = json.Unmarshal(ev.Data, &p); err != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedEvent, err)
			break
		}
		err = m.JoinRoom(ctx, c, p.RoomID)

	case models.EventSendMessage:
		if !m.allow(c) {
			err = ErrRateLimited
			break
		}
		var msg models.ChatMessage
		if err = json.Unmarshal(ev.Data, &msg); err != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedEvent, err)
			break
		}
		err = m.SendMessage(ctx, c, msg)

	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Name)
	}

	if err != nil {
		m.logger.Debug().Err(err).Str("user_id", c.GetUserID()).Str("event", ev.Name).Msg("event failed")
		m.SendError(c, err)
	}
}
