package resolver_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gigchat/backend/internal/models"
	"gigchat/backend/internal/resolver"
	"gigchat/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeStore mirrors the storage guarantees: one room per pair and
// set-union contact updates, each applied under a single lock.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	rooms    map[models.Pair]string
	resolves int
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{users: map[string]*models.User{}, rooms: map[models.Pair]string{}}
	for _, id := range ids {
		s.users[id] = &models.User{ID: id}
	}
	return s
}

func (s *fakeStore) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	cp := *u
	cp.KnownContacts = append(pq.StringArray(nil), u.KnownContacts...)
	return &cp, nil
}

func (s *fakeStore) AddKnownContact(_ context.Context, userID, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	if u != nil && !u.Knows(contactID) {
		u.KnownContacts = append(u.KnownContacts, contactID)
	}
	return nil
}

func (s *fakeStore) ResolveRoom(_ context.Context, pair models.Pair, candidateID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolves++
	if id, ok := s.rooms[pair]; ok {
		return id, false, nil
	}
	s.rooms[pair] = candidateID
	return candidateID, true, nil
}

func TestResolve_Scenario(t *testing.T) {
	store := newFakeStore("7", "42")
	svc := resolver.NewService(store, zerolog.Nop())
	ctx := context.Background()

	r1, err := svc.Resolve(ctx, "7", "42")
	require.NoError(t, err)
	_, parseErr := uuid.Parse(r1)
	assert.NoError(t, parseErr, "room ids are UUIDs")

	again, err := svc.Resolve(ctx, "42", "7")
	require.NoError(t, err)
	assert.Equal(t, r1, again)
	assert.Len(t, store.rooms, 1)

	u7, _ := store.GetUserByID(ctx, "7")
	u42, _ := store.GetUserByID(ctx, "42")
	assert.Equal(t, []string{"42"}, []string(u7.KnownContacts))
	assert.Equal(t, []string{"7"}, []string(u42.KnownContacts))
}

func TestResolve_Concurrent(t *testing.T) {
	store := newFakeStore("7", "42")
	svc := resolver.NewService(store, zerolog.Nop())

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "7", "42"
			if i%2 == 1 {
				a, b = b, a
			}
			id, err := svc.Resolve(context.Background(), a, b)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, store.rooms, 1)
	assert.Len(t, store.users["7"].KnownContacts, 1, "contact sets stay deduplicated")
}

func TestResolve_RepairsContactsOnExistingRoom(t *testing.T) {
	store := newFakeStore("7", "42")
	svc := resolver.NewService(store, zerolog.Nop())
	ctx := context.Background()

	roomID, err := svc.Resolve(ctx, "7", "42")
	require.NoError(t, err)

	// contact list cleared independently of the room
	store.users["42"].KnownContacts = nil

	again, err := svc.Resolve(ctx, "7", "42")
	require.NoError(t, err)
	assert.Equal(t, roomID, again)
	assert.True(t, store.users["42"].Knows("7"))
}

func TestResolve_InvalidPair(t *testing.T) {
	svc := resolver.NewService(newFakeStore("7"), zerolog.Nop())

	for _, pair := range [][2]string{{"", "42"}, {"7", ""}, {"7", "7"}} {
		_, err := svc.Resolve(context.Background(), pair[0], pair[1])
		assert.ErrorIs(t, err, resolver.ErrInvalidPair)
	}
}

func TestResolve_UnknownUser(t *testing.T) {
	store := newFakeStore("7")
	svc := resolver.NewService(store, zerolog.Nop())

	_, err := svc.Resolve(context.Background(), "7", "404")

	assert.ErrorIs(t, err, storage.ErrUserNotFound)
	assert.Zero(t, store.resolves, "no room is created for unknown accounts")
}

type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockRoomStore) AddKnownContact(ctx context.Context, userID, contactID string) error {
	return m.Called(ctx, userID, contactID).Error(0)
}

func (m *MockRoomStore) ResolveRoom(ctx context.Context, pair models.Pair, candidateID string) (string, bool, error) {
	args := m.Called(ctx, pair, candidateID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func TestResolve_StoreFailure(t *testing.T) {
	store := new(MockRoomStore)
	store.On("GetUserByID", mock.Anything, mock.Anything).Return(&models.User{}, nil)
	store.On("ResolveRoom", mock.Anything, models.NewPair("7", "42"), "fixed-id").Return("", false, errors.New("db down"))

	svc := resolver.NewService(store, zerolog.Nop())
	svc.NewID = func() string { return "fixed-id" }

	_, err := svc.Resolve(context.Background(), "7", "42")

	assert.ErrorContains(t, err, "db down")
	store.AssertNotCalled(t, "AddKnownContact", mock.Anything, mock.Anything, mock.Anything)
}
