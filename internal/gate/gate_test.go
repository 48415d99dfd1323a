package gate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gigchat/backend/internal/gate"
	"gigchat/backend/internal/models"
	"gigchat/backend/internal/storage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccessStore struct {
	mock.Mock
}

func (m *MockAccessStore) Recharge(ctx context.Context, roomID string, expiresAt time.Time) error {
	args := m.Called(ctx, roomID, expiresAt)
	return args.Error(0)
}

func (m *MockAccessStore) GetAccessState(ctx context.Context, roomID string) (models.AccessState, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(models.AccessState), args.Error(1)
}

// memoryAccess keeps recharge state in a map, enough to round-trip the gate.
type memoryAccess struct {
	states map[string]models.AccessState
}

func (m *memoryAccess) Recharge(_ context.Context, roomID string, expiresAt time.Time) error {
	m.states[roomID] = models.AccessState{RechargeActive: true, ExpiresAt: &expiresAt}
	return nil
}

func (m *memoryAccess) GetAccessState(_ context.Context, roomID string) (models.AccessState, error) {
	s, ok := m.states[roomID]
	if !ok {
		return models.AccessState{}, storage.ErrRoomNotFound
	}
	return s, nil
}

func newClockedGate(store gate.AccessStore, now *time.Time) *gate.Gate {
	g := gate.New(store, 24*time.Hour, zerolog.Nop())
	g.Now = func() time.Time { return *now }
	return g
}

func TestGate_RechargeBoundary(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := start
	store := &memoryAccess{states: map[string]models.AccessState{"R1": {}}}
	g := newClockedGate(store, &now)

	deadline, err := g.Recharge(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, start.Add(24*time.Hour), deadline)

	now = start.Add(24*time.Hour - time.Second)
	state, err := g.Check(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, gate.Open, state)

	now = start.Add(24 * time.Hour)
	state, err = g.Check(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, gate.Open, state, "the deadline itself is still open")

	now = start.Add(24*time.Hour + time.Second)
	state, err = g.Check(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, gate.Blocked, state)

	// recharging a blocked room reopens it with a fresh deadline
	deadline, err = g.Recharge(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), deadline)
	state, err = g.Check(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, gate.Open, state)
}

func TestGate_CheckDoesNotMutate(t *testing.T) {
	store := new(MockAccessStore)
	expired := time.Now().Add(-time.Hour)
	store.On("GetAccessState", mock.Anything, "R1").Return(models.AccessState{RechargeActive: true, ExpiresAt: &expired}, nil)

	g := gate.New(store, 24*time.Hour, zerolog.Nop())
	for i := 0; i < 3; i++ {
		state, err := g.Check(context.Background(), "R1")
		require.NoError(t, err)
		assert.Equal(t, gate.Blocked, state)
	}

	store.AssertNotCalled(t, "Recharge", mock.Anything, mock.Anything, mock.Anything)
}

func TestGate_UnknownRoomIsOpen(t *testing.T) {
	store := new(MockAccessStore)
	store.On("GetAccessState", mock.Anything, "new-room").Return(models.AccessState{}, storage.ErrRoomNotFound)

	state, err := gate.New(store, time.Hour, zerolog.Nop()).Check(context.Background(), "new-room")

	require.NoError(t, err)
	assert.Equal(t, gate.Open, state)
}

func TestGate_StoreErrorFailsClosed(t *testing.T) {
	store := new(MockAccessStore)
	store.On("GetAccessState", mock.Anything, "R1").Return(models.AccessState{}, errors.New("connection refused"))

	state, err := gate.New(store, time.Hour, zerolog.Nop()).Check(context.Background(), "R1")

	assert.Error(t, err)
	assert.Equal(t, gate.Blocked, state)
}

func TestGate_RechargeUnknownRoom(t *testing.T) {
	store := new(MockAccessStore)
	store.On("Recharge", mock.Anything, "missing", mock.AnythingOfType("time.Time")).Return(storage.ErrRoomNotFound)

	_, err := gate.New(store, time.Hour, zerolog.Nop()).Recharge(context.Background(), "missing")

	assert.ErrorIs(t, err, storage.ErrRoomNotFound)
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name  string
		state models.AccessState
		want  gate.State
	}{
		{"never recharged", models.AccessState{}, gate.Open},
		{"inactive with stale deadline", models.AccessState{ExpiresAt: &past}, gate.Open},
		{"active, not expired", models.AccessState{RechargeActive: true, ExpiresAt: &future}, gate.Open},
		{"active, at deadline", models.AccessState{RechargeActive: true, ExpiresAt: &now}, gate.Open},
		{"active, expired", models.AccessState{RechargeActive: true, ExpiresAt: &past}, gate.Blocked},
		{"active without deadline", models.AccessState{RechargeActive: true}, gate.Open},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.Evaluate(tt.state, now))
		})
	}
}
