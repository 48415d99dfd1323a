package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gigchat/backend/internal/config"
	"gigchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrRoomNotFound = errors.New("chat room not found")
	// ErrPairMismatch is returned when a merge names a room whose members
	// differ from the job's sender and receiver.
	ErrPairMismatch = errors.New("room belongs to a different pair")
	// ErrPairConflict is returned when a merge would create a second room
	// for a pair that already has one.
	ErrPairConflict = errors.New("pair already has a room")
)

type Storage interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetKnownContacts(ctx context.Context, userID string) ([]models.User, error)
	AddKnownContact(ctx context.Context, userID, contactID string) error

	ResolveRoom(ctx context.Context, pair models.Pair, candidateID string) (string, bool, error)
	GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error)
	GetRoomByPair(ctx context.Context, pair models.Pair) (*models.ChatRoom, error)
	MergeTranscript(ctx context.Context, roomID string, pair models.Pair, entries models.Transcript, createdAt time.Time) (bool, error)

	Recharge(ctx context.Context, roomID string, expiresAt time.Time) error
	GetAccessState(ctx context.Context, roomID string) (models.AccessState, error)

	PublishDelivery(ctx context.Context, receipt models.DeliveryReceipt) error
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Migrate creates or updates the tables owned by the chat pipeline.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.User{}, &models.ChatRoom{})
}

// Ping checks both backends.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// GetUserByID looks up an account.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetKnownContacts returns the accounts in the user's contact set.
func (s *Service) GetKnownContacts(ctx context.Context, userID string) ([]models.User, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	contacts := []models.User{}
	if len(user.KnownContacts) == 0 {
		return contacts, nil
	}

	err = s.DB.WithContext(ctx).
		Select("id", "name", "email", "image_url").
		Where("id IN ?", []string(user.KnownContacts)).
		Order("name asc").
		Find(&contacts).Error
	if err != nil {
		return nil, err
	}
	return contacts, nil
}

// AddKnownContact adds contactID to the user's contact set unless it is
// already there. The membership test and the append run in one statement.
func (s *Service) AddKnownContact(ctx context.Context, userID, contactID string) error {
	return s.DB.WithContext(ctx).Exec(`
		UPDATE users
		SET known_contacts = array_append(COALESCE(known_contacts, '{}'), ?)
		WHERE id = ? AND NOT (? = ANY(COALESCE(known_contacts, '{}')))`,
		contactID, userID, contactID,
	).Error
}

// ResolveRoom returns the room of the pair, inserting a row with candidateID
// when none exists. The unique pair index makes concurrent first contacts
// converge on a single row. The bool reports whether this call inserted it.
func (s *Service) ResolveRoom(ctx context.Context, pair models.Pair, candidateID string) (string, bool, error) {
	room := models.ChatRoom{
		RoomID:     candidateID,
		UserAID:    pair.A,
		UserBID:    pair.B,
		Transcript: datatypes.JSON("{}"),
	}

	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_a_id"}, {Name: "user_b_id"}},
			DoNothing: true,
		}).
		Create(&room)
	if res.Error != nil {
		return "", false, res.Error
	}
	created := res.RowsAffected == 1

	existing, err := s.GetRoomByPair(ctx, pair)
	if err != nil {
		return "", false, err
	}
	return existing.RoomID, created, nil
}

func (s *Service) GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Service) GetRoomByPair(ctx context.Context, pair models.Pair) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).
		Where("user_a_id = ? AND user_b_id = ?", pair.A, pair.B).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// jsonb || keeps the right operand on duplicate keys, so the stored
// transcript goes on the right to make the merge add-only.
const mergeTranscriptSQL = `
INSERT INTO chat_rooms (room_id, user_a_id, user_b_id, transcript, recharge_active, created_at, updated_at)
VALUES (@room, @a, @b, CAST(@entries AS jsonb), false, @created, NOW())
ON CONFLICT (room_id) DO UPDATE
SET transcript = EXCLUDED.transcript || COALESCE(chat_rooms.transcript, '{}'::jsonb),
    updated_at = NOW()
WHERE chat_rooms.user_a_id = EXCLUDED.user_a_id
  AND chat_rooms.user_b_id = EXCLUDED.user_b_id
RETURNING (xmax = 0) AS inserted`

// MergeTranscript adds entries to the room's transcript, creating the room
// if it does not exist yet. Keys already present are left untouched. The
// whole read-modify-write is a single upsert, so concurrent merges into the
// same room cannot lose each other's entries. The bool reports whether the
// room row was created by this call.
func (s *Service) MergeTranscript(ctx context.Context, roomID string, pair models.Pair, entries models.Transcript, createdAt time.Time) (bool, error) {
	payload, err := json.Marshal(entries)
	if err != nil {
		return false, err
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var out struct{ Inserted bool }
	res := s.DB.WithContext(ctx).Raw(mergeTranscriptSQL, map[string]interface{}{
		"room":    roomID,
		"a":       pair.A,
		"b":       pair.B,
		"entries": string(payload),
		"created": createdAt,
	}).Scan(&out)

	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return false, ErrPairConflict
	}
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, ErrPairMismatch
	}
	return out.Inserted, nil
}

// Recharge activates the room's paid window until expiresAt.
func (s *Service) Recharge(ctx context.Context, roomID string, expiresAt time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{
			"recharge_active":     true,
			"recharge_expires_at": expiresAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *Service) GetAccessState(ctx context.Context, roomID string) (models.AccessState, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).
		Select("room_id", "recharge_active", "recharge_expires_at").
		Where("room_id = ?", roomID).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AccessState{}, ErrRoomNotFound
	}
	if err != nil {
		return models.AccessState{}, err
	}
	return room.AccessState(), nil
}

// PublishDelivery announces a durable write on Redis Pub/Sub.
func (s *Service) PublishDelivery(ctx context.Context, receipt models.DeliveryReceipt) error {
	msgBytes, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, config.DeliveriesChannel, string(msgBytes)).Err()
}

// SubscribeDeliveries subscribes to delivery receipts from all workers.
func (s *Service) SubscribeDeliveries(ctx context.Context) *redis.PubSub {
	return s.Redis.Subscribe(ctx, config.DeliveriesChannel)
}
