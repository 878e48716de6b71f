package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/broadcast-service/internal/domain"
)

func appendMsg(t *testing.T, c *MemoryChannel, sessionID, from, to string) *domain.SignalMessage {
	t.Helper()
	msg, err := domain.NewSignalMessage(domain.MsgTypeOffer, from, to, sessionID, &domain.OfferPayload{SDP: "v=0"})
	require.NoError(t, err)
	require.NoError(t, c.Append(context.Background(), msg))
	return msg
}

func TestMemoryChannelAppendOrder(t *testing.T) {
	c := NewMemoryChannel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := c.Subscribe(ctx, "s1")
	require.NoError(t, err)

	m1 := appendMsg(t, c, "s1", "camera1", "admin")
	m2 := appendMsg(t, c, "s1", "camera2", "admin")
	m3 := appendMsg(t, c, "s1", "admin", "camera1")

	for _, want := range []*domain.SignalMessage{m1, m2, m3} {
		select {
		case got := <-sub:
			assert.Equal(t, want.ID, got.ID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %s", want.ID)
		}
	}
}

func TestMemoryChannelBacklogReplay(t *testing.T) {
	c := NewMemoryChannel()

	m1 := appendMsg(t, c, "s1", "camera1", "admin")
	m2 := appendMsg(t, c, "s1", "camera1", "admin")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A late subscriber still sees the undeleted backlog in order.
	sub, err := c.Subscribe(ctx, "s1")
	require.NoError(t, err)

	got1 := <-sub
	got2 := <-sub
	assert.Equal(t, m1.ID, got1.ID)
	assert.Equal(t, m2.ID, got2.ID)
}

func TestMemoryChannelDelete(t *testing.T) {
	c := NewMemoryChannel()
	ctx := context.Background()

	m1 := appendMsg(t, c, "s1", "camera1", "admin")
	appendMsg(t, c, "s1", "camera2", "admin")
	require.Equal(t, 2, c.Len("s1"))

	require.NoError(t, c.Delete(ctx, "s1", m1.ID))
	assert.Equal(t, 1, c.Len("s1"))

	// Deleting twice is not an error.
	require.NoError(t, c.Delete(ctx, "s1", m1.ID))
	assert.Equal(t, 1, c.Len("s1"))
}

func TestMemoryChannelSessionIsolation(t *testing.T) {
	c := NewMemoryChannel()
	appendMsg(t, c, "s1", "camera1", "admin")
	appendMsg(t, c, "s2", "camera1", "admin")

	assert.Equal(t, 1, c.Len("s1"))
	assert.Equal(t, 1, c.Len("s2"))
}

func TestMemoryChannelSubscribeCancel(t *testing.T) {
	c := NewMemoryChannel()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := c.Subscribe(ctx, "s1")
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-sub:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
}
