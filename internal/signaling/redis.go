package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitchside/broadcast-service/internal/domain"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
)

// RedisChannel is a Channel backed by a Redis Stream per session. XADD
// preserves append order, XRANGE serves the backlog, and XDEL implements
// delete-after-consume. Suitable when participants are spread across
// processes.
type RedisChannel struct {
	client    *redis.Client
	keyPrefix string
	pollWait  time.Duration
}

// RedisChannelConfig holds configuration for the Redis channel.
type RedisChannelConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// NewRedisChannel creates a Redis Streams backed signaling channel.
func NewRedisChannel(cfg RedisChannelConfig) (*RedisChannel, error) {
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
		prefix = "signal:session:"
	}

	return &RedisChannel{
		client:    client,
		keyPrefix: prefix,
		pollWait:  2 * time.Second,
	}, nil
}

func (c *RedisChannel) key(sessionID string) string {
	return c.keyPrefix + sessionID
}

// Append adds a message to the session stream. The stream entry id
// becomes the message id, which keeps Delete addressable.
func (c *RedisChannel) Append(ctx context.Context, msg *domain.SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal signal message: %w", err)
	}

	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.key(msg.SessionID),
		Values: map[string]any{"data": data},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to append signal message: %w", err)
	}

	msg.ID = id
	return nil
}

// Subscribe streams the session's messages in append order, starting with
// the undeleted backlog.
func (c *RedisChannel) Subscribe(ctx context.Context, sessionID string) (<-chan *domain.SignalMessage, error) {
	out := make(chan *domain.SignalMessage, 256)

	go func() {
		defer close(out)

		l := pkglog.L().With().Str(pkglog.FieldSessionID, sessionID).Logger()
		lastID := "0"

		for {
			entries, err := c.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{c.key(sessionID), lastID},
				Block:   c.pollWait,
				Count:   64,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if err != redis.Nil {
					l.Warn().Err(err).Msg("signal stream read failed")
				}
				continue
			}

			for _, stream := range entries {
				for _, entry := range stream.Messages {
					lastID = entry.ID

					raw, ok := entry.Values["data"].(string)
					if !ok {
						continue
					}
					var msg domain.SignalMessage
					if err := json.Unmarshal([]byte(raw), &msg); err != nil {
						l.Warn().Err(err).Msg("malformed signal message dropped")
						continue
					}
					msg.ID = entry.ID

					select {
					case out <- &msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// Delete removes a consumed message from the session stream.
func (c *RedisChannel) Delete(ctx context.Context, sessionID, messageID string) error {
	if err := c.client.XDel(ctx, c.key(sessionID), messageID).Err(); err != nil {
		return fmt.Errorf("failed to delete signal message: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisChannel) Close() error {
	return c.client.Close()
}

var _ Channel = (*RedisChannel)(nil)
