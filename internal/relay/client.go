package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchside/broadcast-service/internal/domain"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
)

// Client is one WebSocket participant attached to the relay.
type Client struct {
	SessionID     string
	ParticipantID string
	Hub           *Hub
	Conn          *websocket.Conn
	Send          chan []byte

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection for a participant.
func NewClient(hub *Hub, conn *websocket.Conn, sessionID, participantID string) *Client {
	return &Client{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Hub:           hub,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		done:          make(chan struct{}),
	}
}

// close stops the pumps. Send stays open so a racing forward never hits
// a closed channel.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
	})
}

// ReadPump appends inbound frames to the signaling channel. The envelope
// sender and session are overwritten with the connection's identity so a
// client cannot speak for another participant.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	cfg := c.Hub.config
	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	l := pkglog.L().With().
		Str(pkglog.FieldSessionID, c.SessionID).
		Str(pkglog.FieldParticipant, c.ParticipantID).
		Logger()

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l.Error().Err(err).Msg("websocket error")
			}
			return
		}

		var msg domain.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.Warn().Err(err).Msg("malformed frame dropped")
			continue
		}
		msg.ID = ""
		msg.From = c.ParticipantID
		msg.SessionID = c.SessionID
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Hub.channel.Append(ctx, &msg); err != nil {
			l.Warn().Err(err).Msg("inbound frame not appended")
		}
		cancel()
	}
}

// WritePump writes queued frames and keeps the connection alive with
// pings.
func (c *Client) WritePump() {
	cfg := c.Hub.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forward delivers channel messages addressed to this participant and
// deletes them after a successful enqueue.
func (c *Client) forward(ctx context.Context, msgs <-chan *domain.SignalMessage) {
	l := pkglog.L().With().
		Str(pkglog.FieldSessionID, c.SessionID).
		Str(pkglog.FieldParticipant, c.ParticipantID).
		Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.To != c.ParticipantID {
				continue
			}

			data, err := json.Marshal(msg)
			if err != nil {
				l.Warn().Err(err).Msg("outbound frame not marshaled")
				continue
			}

			select {
			case c.Send <- data:
				delCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := c.Hub.channel.Delete(delCtx, c.SessionID, msg.ID); err != nil {
					l.Warn().Err(err).Str("message_id", msg.ID).Msg("forwarded message not deleted")
				}
				cancel()
			default:
				// Send buffer full: the message stays in the channel and is
				// replayed when the client reconnects.
				l.Warn().Str("message_id", msg.ID).Msg("client backlogged, frame left in channel")
			}
		}
	}
}
