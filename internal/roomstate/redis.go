package roomstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitchside/broadcast-service/internal/domain"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
)

const (
	fieldActiveCamera = "active_camera"
	fieldUpdatedAt    = "updated_at"
	cameraFieldPrefix = "camera:"
)

// RedisStore is a Store backed by a Redis hash per session. Each camera
// slot lives in its own hash field so slot updates are single-field HSET
// calls and never clobber sibling slots. Changes are announced on a
// pub/sub channel for watchers in other processes.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisStoreConfig holds configuration for the Redis room store.
type RedisStoreConfig struct {
	Address    string        `mapstructure:"address"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// NewRedisStore creates a Redis backed room store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "room:session:"
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisStore{client: client, keyPrefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

func (s *RedisStore) notifyKey(sessionID string) string {
	return s.keyPrefix + sessionID + ":updates"
}

// Create ensures a room hash exists for the session and returns it.
func (s *RedisStore) Create(ctx context.Context, sessionID string) (*domain.Room, error) {
	key := s.key(sessionID)

	// HSETNX marks the hash as existing without touching camera fields of
	// a room that is already live.
	created, err := s.client.HSetNX(ctx, key, fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	if created {
		s.client.Expire(ctx, key, s.ttl)
	}
	return s.Get(ctx, sessionID)
}

// Get loads the room hash and assembles a Room.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*domain.Room, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	room := domain.NewRoom(sessionID)
	for field, value := range fields {
		switch {
		case field == fieldActiveCamera:
			slot, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			room.ActiveCameraID = &slot
		case field == fieldUpdatedAt:
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				room.UpdatedAt = ts
			}
		case len(field) > len(cameraFieldPrefix) && field[:len(cameraFieldPrefix)] == cameraFieldPrefix:
			slot, err := strconv.Atoi(field[len(cameraFieldPrefix):])
			if err != nil {
				continue
			}
			var cam domain.CameraConnection
			if err := json.Unmarshal([]byte(value), &cam); err != nil {
				pkglog.L().Warn().Err(err).Str(pkglog.FieldSessionID, sessionID).Msg("malformed camera field skipped")
				continue
			}
			room.Cameras[slot] = &cam
		}
	}
	room.IsLive = room.ActiveCameraID != nil
	return room, nil
}

// SetCamera registers or unregisters a camera slot with a single-field
// hash write.
func (s *RedisStore) SetCamera(ctx context.Context, sessionID string, slot int, conn *domain.CameraConnection) error {
	if !validSlot(slot) {
		return ErrInvalidSlot
	}
	if err := s.ensureExists(ctx, sessionID); err != nil {
		return err
	}

	key := s.key(sessionID)
	field := cameraFieldPrefix + strconv.Itoa(slot)

	if conn == nil {
		if err := s.client.HDel(ctx, key, field).Err(); err != nil {
			return fmt.Errorf("failed to unregister camera: %w", err)
		}
	} else {
		data, err := json.Marshal(conn)
		if err != nil {
			return fmt.Errorf("failed to marshal camera: %w", err)
		}
		if err := s.client.HSet(ctx, key, field, data).Err(); err != nil {
			return fmt.Errorf("failed to register camera: %w", err)
		}
	}

	return s.touch(ctx, sessionID)
}

// SetCameraStatus rewrites only the addressed camera's hash field.
func (s *RedisStore) SetCameraStatus(ctx context.Context, sessionID string, slot int, status domain.CameraStatus) error {
	if !validSlot(slot) {
		return ErrInvalidSlot
	}

	key := s.key(sessionID)
	field := cameraFieldPrefix + strconv.Itoa(slot)

	raw, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		if exists, _ := s.client.Exists(ctx, key).Result(); exists == 0 {
			return ErrSessionNotFound
		}
		return ErrCameraNotRegistered
	}
	if err != nil {
		return fmt.Errorf("failed to load camera: %w", err)
	}

	var cam domain.CameraConnection
	if err := json.Unmarshal([]byte(raw), &cam); err != nil {
		return fmt.Errorf("failed to unmarshal camera: %w", err)
	}
	cam.Status = status

	data, err := json.Marshal(&cam)
	if err != nil {
		return fmt.Errorf("failed to marshal camera: %w", err)
	}
	if err := s.client.HSet(ctx, key, field, data).Err(); err != nil {
		return fmt.Errorf("failed to update camera status: %w", err)
	}

	return s.touch(ctx, sessionID)
}

// SetActiveCamera selects the broadcast camera. IsLive is derived from
// the field's presence on read, so no separate flag is stored.
func (s *RedisStore) SetActiveCamera(ctx context.Context, sessionID string, slot *int) error {
	if slot != nil && !validSlot(*slot) {
		return ErrInvalidSlot
	}
	if err := s.ensureExists(ctx, sessionID); err != nil {
		return err
	}

	key := s.key(sessionID)
	if slot == nil {
		if err := s.client.HDel(ctx, key, fieldActiveCamera).Err(); err != nil {
			return fmt.Errorf("failed to clear active camera: %w", err)
		}
	} else {
		if err := s.client.HSet(ctx, key, fieldActiveCamera, strconv.Itoa(*slot)).Err(); err != nil {
			return fmt.Errorf("failed to set active camera: %w", err)
		}
	}

	return s.touch(ctx, sessionID)
}

// Watch subscribes to the session's update channel and emits a freshly
// loaded room after every change notification.
func (s *RedisStore) Watch(ctx context.Context, sessionID string) (<-chan *domain.Room, error) {
	sub := s.client.Subscribe(ctx, s.notifyKey(sessionID))
	out := make(chan *domain.Room, 16)

	go func() {
		defer close(out)
		defer sub.Close()

		l := pkglog.L().With().Str(pkglog.FieldSessionID, sessionID).Logger()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Channel():
				if !ok {
					return
				}
				room, err := s.Get(ctx, sessionID)
				if err != nil {
					if ctx.Err() == nil {
						l.Warn().Err(err).Msg("room reload after update failed")
					}
					continue
				}
				select {
				case out <- room:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *RedisStore) ensureExists(ctx context.Context, sessionID string) error {
	exists, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check room: %w", err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) touch(ctx context.Context, sessionID string) error {
	if err := s.client.HSet(ctx, s.key(sessionID), fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("failed to touch room: %w", err)
	}
	s.client.Publish(ctx, s.notifyKey(sessionID), "updated")
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
