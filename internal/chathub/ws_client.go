package chathub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gigchat/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 256
	// eventTimeout bounds the gate and queue calls made for one event.
	eventTimeout = 15 * time.Second
)

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	UserID string
	Lang   string
	Conn   *websocket.Conn
	Hub    *ManagerService
	Send   chan models.Event

	closeOnce sync.Once
	logger    zerolog.Logger
}

func NewWebSocketClient(conn *websocket.Conn, hub *ManagerService, userID, lang string) *WebSocketClient {
	return &WebSocketClient{
		UserID: userID,
		Lang:   lang,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan models.Event, sendBuffer),
		logger: hub.logger.With().Str("user_id", userID).Logger(),
	}
}

func (c *WebSocketClient) GetUserID() string                   { return c.UserID }
func (c *WebSocketClient) GetLang() string                     { return c.Lang }
func (c *WebSocketClient) GetSendChannel() chan<- models.Event { return c.Send }

// Run registers the client with the hub and starts both pumps.
func (c *WebSocketClient) Run() {
	if !c.Hub.Register(c) {
		c.Conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// Close closes Send, which stops writePump. Only the hub calls it.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		var ev models.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			c.Hub.SendError(c, ErrMalformedEvent)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		c.Hub.HandleEvent(ctx, c, ev)
		cancel()
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(ev); err != nil {
				c.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
