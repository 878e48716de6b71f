package signaling

import (
	"context"
	"strconv"
	"sync"

	"github.com/pitchside/broadcast-service/internal/domain"
)

// MemoryChannel is an in-process Channel for single-node deployments and
// tests.
type MemoryChannel struct {
	mu      sync.Mutex
	nextID  int64
	backlog map[string][]*domain.SignalMessage // sessionID -> undeleted messages in append order
	subs    map[string][]chan *domain.SignalMessage
}

// NewMemoryChannel creates an empty in-memory channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		backlog: make(map[string][]*domain.SignalMessage),
		subs:    make(map[string][]chan *domain.SignalMessage),
	}
}

// Append adds a message to the session log and fans it out to live
// subscribers.
func (c *MemoryChannel) Append(ctx context.Context, msg *domain.SignalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	msg.ID = strconv.FormatInt(c.nextID, 10)
	c.backlog[msg.SessionID] = append(c.backlog[msg.SessionID], msg)

	for _, sub := range c.subs[msg.SessionID] {
		select {
		case sub <- msg:
		default:
			// Subscriber buffer full; it will still see the message in
			// the backlog on its next subscribe.
		}
	}
	return nil
}

// Subscribe replays the undeleted backlog in append order, then streams
// live appends.
func (c *MemoryChannel) Subscribe(ctx context.Context, sessionID string) (<-chan *domain.SignalMessage, error) {
	sub := make(chan *domain.SignalMessage, 256)

	c.mu.Lock()
	for _, msg := range c.backlog[sessionID] {
		select {
		case sub <- msg:
		default:
		}
	}
	c.subs[sessionID] = append(c.subs[sessionID], sub)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		subs := c.subs[sessionID]
		for i, s := range subs {
			if s == sub {
				c.subs[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		close(sub)
	}()

	return sub, nil
}

// Delete removes a consumed message from the session log.
func (c *MemoryChannel) Delete(ctx context.Context, sessionID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.backlog[sessionID]
	for i, msg := range msgs {
		if msg.ID == messageID {
			c.backlog[sessionID] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len returns the number of undeleted messages for a session.
func (c *MemoryChannel) Len(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.backlog[sessionID])
}

var _ Channel = (*MemoryChannel)(nil)
