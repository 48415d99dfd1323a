package chathub_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gigchat/backend/internal/gate"
	"gigchat/backend/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockClient struct {
	userID string
	lang   string
	send   chan models.Event
	closed atomic.Bool
}

func newMockClient(userID string) *MockClient {
	return &MockClient{
		userID: userID,
		lang:   "en",
		send:   make(chan models.Event, 16),
	}
}

func (c *MockClient) GetUserID() string                   { return c.userID }
func (c *MockClient) GetLang() string                     { return c.lang }
func (c *MockClient) GetSendChannel() chan<- models.Event { return c.send }
func (c *MockClient) Run()                                {}
func (c *MockClient) Close()                              { c.closed.Store(true) }

// receive waits for the next event sent to the client.
func (c *MockClient) receive(t *testing.T) models.Event {
	t.Helper()
	select {
	case ev := <-c.send:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.userID)
		return models.Event{}
	}
}

func (c *MockClient) pending() int { return len(c.send) }

type MockGate struct {
	mock.Mock
}

func (m *MockGate) Check(ctx context.Context, roomID string) (gate.State, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(gate.State), args.Error(1)
}

type MockQueue struct {
	mock.Mock
	enqueued atomic.Int32
}

func (m *MockQueue) Enqueue(ctx context.Context, job models.QueueJob) (string, error) {
	m.enqueued.Add(1)
	args := m.Called(ctx, job)
	return args.String(0), args.Error(1)
}

func (m *MockQueue) job(t *testing.T, i int) models.QueueJob {
	t.Helper()
	require.Greater(t, len(m.Calls), i)
	return m.Calls[i].Arguments.Get(1).(models.QueueJob)
}

type MockRooms struct {
	mock.Mock
}

func (m *MockRooms) GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	args := m.Called(ctx, roomID)
	room, _ := args.Get(0).(*models.ChatRoom)
	return room, args.Error(1)
}

func (m *MockRooms) GetRoomByPair(ctx context.Context, pair models.Pair) (*models.ChatRoom, error) {
	args := m.Called(ctx, pair)
	room, _ := args.Get(0).(*models.ChatRoom)
	return room, args.Error(1)
}
