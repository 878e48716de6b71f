package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pitchside/broadcast-service/internal/signaling"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
)

// WebSocketConfig holds connection timing limits for relayed clients.
type WebSocketConfig struct {
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 512 * 1024
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = (c.PongWait * 9) / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// Hub bridges WebSocket participants onto the signaling channel. Each
// connected client appends its inbound frames to the session channel and
// receives the channel messages addressed to its participant id, so
// browser participants and in-process managers negotiate over the same
// log.
type Hub struct {
	channel signaling.Channel
	config  WebSocketConfig
	log     zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client // sessionID + "/" + participantID
}

// NewHub creates a relay hub over the signaling channel.
func NewHub(channel signaling.Channel, cfg WebSocketConfig) *Hub {
	return &Hub{
		channel: channel,
		config:  cfg.withDefaults(),
		clients: make(map[string]*Client),
	}
}

func clientKey(sessionID, participantID string) string {
	return sessionID + "/" + participantID
}

// Register adds a client and starts forwarding channel traffic to it. A
// previous client for the same participant is replaced and closed.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	key := clientKey(client.SessionID, client.ParticipantID)

	h.mu.Lock()
	old := h.clients[key]
	h.clients[key] = client
	h.mu.Unlock()

	if old != nil {
		old.close()
	}

	forwardCtx, cancel := context.WithCancel(ctx)
	client.cancel = cancel

	msgs, err := h.channel.Subscribe(forwardCtx, client.SessionID)
	if err != nil {
		cancel()
		return err
	}
	go client.forward(forwardCtx, msgs)

	pkglog.L().Info().
		Str(pkglog.FieldSessionID, client.SessionID).
		Str(pkglog.FieldParticipant, client.ParticipantID).
		Msg("relay client registered")
	return nil
}

// Unregister removes a client and stops its forwarding.
func (h *Hub) Unregister(client *Client) {
	key := clientKey(client.SessionID, client.ParticipantID)

	h.mu.Lock()
	if h.clients[key] == client {
		delete(h.clients, key)
	}
	h.mu.Unlock()

	client.close()
	pkglog.L().Info().
		Str(pkglog.FieldSessionID, client.SessionID).
		Str(pkglog.FieldParticipant, client.ParticipantID).
		Msg("relay client unregistered")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
