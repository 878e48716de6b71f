package signaling

import (
	"context"

	"github.com/pitchside/broadcast-service/internal/domain"
)

// Channel is the per-session signaling message log. Participants append
// messages, subscribe to the session's stream, and delete messages they
// have consumed.
//
// Guarantees: each subscriber observes messages in append order. There is
// no once-only delivery guarantee. A message may be observed more than
// once (replay after reconnect, delete racing a concurrent read), so
// handlers must be idempotent.
type Channel interface {
	// Append adds a message to the session log and fills in its ID.
	Append(ctx context.Context, msg *domain.SignalMessage) error

	// Subscribe returns the session's messages in append order: first the
	// undeleted backlog, then live appends. The channel is closed when ctx
	// is cancelled.
	Subscribe(ctx context.Context, sessionID string) (<-chan *domain.SignalMessage, error)

	// Delete removes a consumed message from the session log. Deleting an
	// already-deleted message is not an error.
	Delete(ctx context.Context, sessionID, messageID string) error
}
