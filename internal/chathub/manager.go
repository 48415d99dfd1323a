// Package chathub is the realtime gateway: it tracks connections and room
// memberships, relays messages between the members of a room and hands
// every accepted message to the durable queue.
package chathub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gigchat/backend/internal/config"
	"gigchat/backend/internal/gate"
	"gigchat/backend/internal/localization"
	"gigchat/backend/internal/metrics"
	"gigchat/backend/internal/models"
	"gigchat/backend/internal/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrValidation = errors.New("invalid message")
	ErrNotMember  = errors.New("user is not a member of the room")
	// ErrAccessBlocked is returned when the room's paid window has expired.
	ErrAccessBlocked = errors.New("chat access expired")
	// ErrAccessUnavailable is returned when the access state could not be
	// read. Sends fail closed.
	ErrAccessUnavailable = errors.New("chat access could not be checked")
	// ErrDeliveryDegraded is returned on the fast path when the message
	// reached the room but could not be queued for persistence.
	ErrDeliveryDegraded = errors.New("message delivered but not queued")
	// ErrSendRejected is returned on the durable path when the message
	// could not be queued. Nothing was delivered.
	ErrSendRejected = errors.New("message not queued")
	ErrRateLimited  = errors.New("send rate exceeded")
	ErrUnknownEvent = errors.New("unknown event")
)

// AccessChecker reports whether a room currently accepts messages.
type AccessChecker interface {
	Check(ctx context.Context, roomID string) (gate.State, error)
}

// Enqueuer durably records a job. queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.QueueJob) (string, error)
}

// RoomLookup is used to verify room membership on join and send.
type RoomLookup interface {
	GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error)
	GetRoomByPair(ctx context.Context, pair models.Pair) (*models.ChatRoom, error)
}

type joinRequest struct {
	client Client
	roomID string
	done   chan struct{}
}

type broadcast struct {
	from   Client
	roomID string
	event  models.Event
}

type directMessage struct {
	client Client
	event  models.Event
}

// ManagerService owns every membership index. The maps are only touched by
// the Run loop; other goroutines talk to it through channels.
type ManagerService struct {
	Clients map[Client]struct{}
	rooms   map[string]map[Client]struct{}
	users   map[string]map[Client]struct{}
	joined  map[Client]map[string]struct{}

	RegisterCh   chan Client
	UnregisterCh chan Client
	joinCh       chan joinRequest
	broadcastCh  chan broadcast
	directCh     chan directMessage
	deliverCh    chan models.DeliveryReceipt
	done         chan struct{}

	Gate      AccessChecker
	Queue     Enqueuer
	Rooms     RoomLookup
	Localizer *localization.Localizer

	// Mode is config.DeliveryFast or config.DeliveryDurable.
	Mode       string
	SendRate   rate.Limit
	SendBurst  int
	Now        func() time.Time
	NewBackOff func() backoff.BackOff

	limitersMu sync.Mutex
	limiters   map[Client]*rate.Limiter

	logger zerolog.Logger
}

func NewManagerService(g AccessChecker, q Enqueuer, logger zerolog.Logger) *ManagerService {
	return &ManagerService{
		Clients:      make(map[Client]struct{}),
		rooms:        make(map[string]map[Client]struct{}),
		users:        make(map[string]map[Client]struct{}),
		joined:       make(map[Client]map[string]struct{}),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		joinCh:       make(chan joinRequest),
		broadcastCh:  make(chan broadcast, 64),
		directCh:     make(chan directMessage, 64),
		deliverCh:    make(chan models.DeliveryReceipt, 64),
		done:         make(chan struct{}),
		Gate:         g,
		Queue:        q,
		Mode:         config.DeliveryFast,
		Now:          time.Now,
		NewBackOff:   defaultEnqueueBackOff,
		limiters:     make(map[Client]*rate.Limiter),
		logger:       logger.With().Str("component", "chathub").Logger(),
	}
}

func defaultEnqueueBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.RetryInitialInterval
	return backoff.WithMaxRetries(b, config.EnqueueMaxRetries)
}

// SetRateLimit allows perMinute send_message events per connection with
// the given burst. A zero perMinute disables limiting.
func (m *ManagerService) SetRateLimit(perMinute, burst int) {
	if perMinute <= 0 {
		m.SendRate = 0
		return
	}
	m.SendRate = rate.Every(time.Minute / time.Duration(perMinute))
	m.SendBurst = burst
}

// Run processes hub events until ctx is cancelled, then closes every
// remaining connection.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)
	m.logger.Info().Str("mode", m.Mode).Msg("chat hub started")

	for {
		select {
		case <-ctx.Done():
			for c := range m.Clients {
				m.remove(c)
			}
			m.logger.Info().Msg("chat hub stopped")
			return

		case c := <-m.RegisterCh:
			m.add(c)

		case c := <-m.UnregisterCh:
			m.remove(c)

		case req := <-m.joinCh:
			m.join(req.client, req.roomID)
			close(req.done)

		case b := <-m.broadcastCh:
			for c := range m.rooms[b.roomID] {
				if c != b.from {
					m.push(c, b.event)
				}
			}

		case d := <-m.directCh:
			if _, ok := m.Clients[d.client]; ok {
				m.push(d.client, d.event)
			}

		case r := <-m.deliverCh:
			m.deliver(r)
		}
	}
}

// Register adds a connection. It returns false if the hub has stopped.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

// Unregister removes a connection and all of its memberships.
func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

func (m *ManagerService) add(c Client) {
	if _, ok := m.Clients[c]; ok {
		return
	}
	m.Clients[c] = struct{}{}
	addMember(m.users, c.GetUserID(), c)
	metrics.Connections.Inc()
	m.logger.Debug().Str("user_id", c.GetUserID()).Msg("client registered")
}

func (m *ManagerService) remove(c Client) {
	if _, ok := m.Clients[c]; !ok {
		return
	}
	for roomID := range m.joined[c] {
		removeMember(m.rooms, roomID, c)
	}
	delete(m.joined, c)
	removeMember(m.users, c.GetUserID(), c)
	delete(m.Clients, c)

	m.limitersMu.Lock()
	delete(m.limiters, c)
	m.limitersMu.Unlock()

	c.Close()
	metrics.Connections.Dec()
	m.logger.Debug().Str("user_id", c.GetUserID()).Msg("client unregistered")
}

func (m *ManagerService) join(c Client, roomID string) {
	if _, ok := m.Clients[c]; !ok {
		return
	}
	addMember(m.rooms, roomID, c)
	if m.joined[c] == nil {
		m.joined[c] = make(map[string]struct{})
	}
	m.joined[c][roomID] = struct{}{}
}

// push never blocks the loop: a connection that cannot keep up is dropped.
func (m *ManagerService) push(c Client, ev models.Event) {
	select {
	case c.GetSendChannel() <- ev:
	default:
		m.logger.Warn().Str("user_id", c.GetUserID()).Msg("send buffer full, dropping client")
		m.remove(c)
	}
}

func (m *ManagerService) deliver(r models.DeliveryReceipt) {
	ev, err := models.NewEvent(models.EventMessageSaved, r)
	if err != nil {
		m.logger.Error().Err(err).Msg("encode delivery receipt")
		return
	}
	for _, userID := range []string{r.SenderID, r.ReceiverID} {
		for c := range m.users[userID] {
			m.push(c, ev)
		}
	}
}

func addMember(index map[string]map[Client]struct{}, key string, c Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[Client]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

func removeMember(index map[string]map[Client]struct{}, key string, c Client) {
	set := index[key]
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}

// JoinRoom subscribes the connection to a room. Joining twice is a no-op.
// When Rooms is set, a user may only join rooms of their own pair; a room
// without a row yet is allowed, since the first message creates it.
func (m *ManagerService) JoinRoom(ctx context.Context, c Client, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return fmt.Errorf("%w: missing room_id", ErrValidation)
	}
	if m.Rooms != nil {
		room, err := m.Rooms.GetRoomByID(ctx, roomID)
		switch {
		case errors.Is(err, storage.ErrRoomNotFound):
		case err != nil:
			return fmt.Errorf("look up room %s: %w", roomID, err)
		case !room.Pair().Contains(c.GetUserID()):
			return ErrNotMember
		}
	}

	req := joinRequest{client: c, roomID: roomID, done: make(chan struct{})}
	select {
	case m.joinCh <- req:
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

// SendMessage relays msg from c to the room and queues it for
// persistence. The sender is always the connection's user; a client-sent
// chat_recharge flag is ignored because the gate reads the stored state.
func (m *ManagerService) SendMessage(ctx context.Context, c Client, msg models.ChatMessage) error {
	msg, err := m.normalize(c, msg)
	if err != nil {
		metrics.MessagesReceived.WithLabelValues("invalid").Inc()
		return err
	}

	if err := m.authorize(ctx, msg); err != nil {
		metrics.MessagesReceived.WithLabelValues("invalid").Inc()
		return err
	}

	state, err := m.Gate.Check(ctx, msg.RoomID)
	if err != nil {
		metrics.MessagesReceived.WithLabelValues("blocked").Inc()
		return fmt.Errorf("%w: %v", ErrAccessUnavailable, err)
	}
	if state == gate.Blocked {
		metrics.MessagesReceived.WithLabelValues("blocked").Inc()
		return ErrAccessBlocked
	}

	event, err := models.NewEvent(models.EventReceiveMessage, msg)
	if err != nil {
		return err
	}
	job := models.QueueJob{
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		CreatedAt:  m.Now().UTC(),
		Entries:    models.Transcript{msg.Timestamp: {SenderID: msg.SenderID, Text: msg.Text}},
	}
	log := m.logger.With().Str("room_id", msg.RoomID).Str("sender_id", msg.SenderID).Str("timestamp", msg.Timestamp).Logger()

	if m.Mode == config.DeliveryDurable {
		if err := m.enqueue(ctx, job); err != nil {
			metrics.MessagesReceived.WithLabelValues("rejected").Inc()
			log.Error().Err(err).Msg("message rejected, queue unavailable")
			return fmt.Errorf("%w: %v", ErrSendRejected, err)
		}
		m.broadcast(c, msg.RoomID, event)
		metrics.MessagesReceived.WithLabelValues("accepted").Inc()
		return nil
	}

	m.broadcast(c, msg.RoomID, event)
	if err := m.enqueue(ctx, job); err != nil {
		metrics.MessagesReceived.WithLabelValues("degraded").Inc()
		log.Error().Err(err).Msg("message delivered but not queued")
		return fmt.Errorf("%w: %v", ErrDeliveryDegraded, err)
	}
	metrics.MessagesReceived.WithLabelValues("accepted").Inc()
	return nil
}

func (m *ManagerService) normalize(c Client, msg models.ChatMessage) (models.ChatMessage, error) {
	userID := c.GetUserID()
	msg.RoomID = strings.TrimSpace(msg.RoomID)
	msg.ReceiverID = strings.TrimSpace(msg.ReceiverID)

	switch {
	case msg.RoomID == "":
		return msg, fmt.Errorf("%w: missing room_id", ErrValidation)
	case msg.ReceiverID == "":
		return msg, fmt.Errorf("%w: missing receiver_id", ErrValidation)
	case strings.TrimSpace(msg.Text) == "":
		return msg, fmt.Errorf("%w: empty text", ErrValidation)
	case msg.SenderID != "" && msg.SenderID != userID:
		return msg, fmt.Errorf("%w: sender_id does not match the connection", ErrValidation)
	case msg.ReceiverID == userID:
		return msg, fmt.Errorf("%w: receiver is the sender", ErrValidation)
	}

	msg.SenderID = userID
	msg.ChatRecharge = false
	if msg.Timestamp == "" {
		msg.Timestamp = m.Now().UTC().Format(time.RFC3339Nano)
	}
	return msg, nil
}

// authorize binds the message to the room of its sender and receiver. An
// existing room must belong to exactly that pair; a room id without a row
// is only accepted while the pair has no room yet.
func (m *ManagerService) authorize(ctx context.Context, msg models.ChatMessage) error {
	if m.Rooms == nil {
		return nil
	}
	pair := models.NewPair(msg.SenderID, msg.ReceiverID)

	room, err := m.Rooms.GetRoomByID(ctx, msg.RoomID)
	switch {
	case err == nil:
		if room.Pair() != pair {
			return ErrNotMember
		}
		return nil
	case !errors.Is(err, storage.ErrRoomNotFound):
		return fmt.Errorf("%w: %v", ErrAccessUnavailable, err)
	}

	existing, err := m.Rooms.GetRoomByPair(ctx, pair)
	switch {
	case errors.Is(err, storage.ErrRoomNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrAccessUnavailable, err)
	case existing.RoomID != msg.RoomID:
		return fmt.Errorf("%w: pair already uses room %s", ErrNotMember, existing.RoomID)
	}
	return nil
}

func (m *ManagerService) enqueue(ctx context.Context, job models.QueueJob) error {
	start := time.Now()
	defer func() { metrics.EnqueueLatency.Observe(time.Since(start).Seconds()) }()

	return backoff.Retry(func() error {
		_, err := m.Queue.Enqueue(ctx, job)
		return err
	}, backoff.WithContext(m.NewBackOff(), ctx))
}

func (m *ManagerService) broadcast(from Client, roomID string, ev models.Event) {
	select {
	case m.broadcastCh <- broadcast{from: from, roomID: roomID, event: ev}:
	case <-m.done:
	}
}

// Deliver forwards a persistence receipt to every connection of the
// sender and the receiver.
func (m *ManagerService) Deliver(r models.DeliveryReceipt) {
	select {
	case m.deliverCh <- r:
	case <-m.done:
	}
}

// SendTo queues ev for a single connection.
func (m *ManagerService) SendTo(c Client, ev models.Event) {
	select {
	case m.directCh <- directMessage{client: c, event: ev}:
	case <-m.done:
	}
}

// SendError reports err to the connection as a localized error_message.
func (m *ManagerService) SendError(c Client, err error) {
	text := m.Localizer.GetString(c.GetLang(), errorKey(err))
	ev, encErr := models.NewEvent(models.EventError, models.ErrorPayload{Message: text})
	if encErr != nil {
		m.logger.Error().Err(encErr).Msg("encode error event")
		return
	}
	m.SendTo(c, ev)
}

func errorKey(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "error.invalid_message"
	case errors.Is(err, ErrMalformedEvent):
		return "error.malformed_event"
	case errors.Is(err, ErrUnknownEvent):
		return "error.unknown_event"
	case errors.Is(err, ErrNotMember):
		return "error.not_member"
	case errors.Is(err, ErrAccessBlocked):
		return "error.access_blocked"
	case errors.Is(err, ErrAccessUnavailable):
		return "error.access_unavailable"
	case errors.Is(err, ErrDeliveryDegraded):
		return "error.delivery_degraded"
	case errors.Is(err, ErrSendRejected):
		return "error.send_rejected"
	case errors.Is(err, ErrRateLimited):
		return "error.rate_limited"
	default:
		return "error.internal"
	}
}

func (m *ManagerService) allow(c Client) bool {
	if m.SendRate == 0 {
		return true
	}
	m.limitersMu.Lock()
	defer m.limitersMu.Unlock()
	l, ok := m.limiters[c]
	if !ok {
		l = rate.NewLimiter(m.SendRate, m.SendBurst)
		m.limiters[c] = l
	}
	return l.Allow()
}
