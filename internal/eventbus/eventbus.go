// Package eventbus provides the publish/subscribe client the runtime uses to
// fan out world update events across session-endpoint processes.
//
// Subjects form a dot-separated hierarchy; the runtime's only subject shape
// is world.updates.user.<user_id> (see SubjectForUser). Publish is
// fire-and-forget: callers that need publish failures to never fail a state
// write should wrap the Client in a [PublishGuard].
package eventbus

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Publish/Subscribe when the client has lost
// its connection to the backend and has not yet reconnected.
var ErrNotConnected = errors.New("eventbus: not connected")

// Handler is invoked once per message received on a subscribed subject, in
// delivery order for that subject. Handler must not block for long; slow
// handlers should hand work off to their own goroutine/queue.
type Handler func(payload []byte)

// SubscriptionHandle identifies an active subscription so it can later be
// passed to Client.Unsubscribe.
type SubscriptionHandle struct {
	Subject string
	ID      uint64
}

// Client is the pub/sub messaging backbone contract used by the state store
// to broadcast world updates and by the session endpoint to receive them.
type Client interface {
	// Connect establishes the initial connection. Subsequent disconnections
	// are handled transparently; callers do not need to call Connect again.
	Connect(ctx context.Context) error

	// Publish sends payload on subject. Fire-and-forget: the only errors
	// returned are ErrNotConnected or a backend error — delivery is never
	// acknowledged by subscribers.
	Publish(ctx context.Context, subject string, payload []byte) error

	// Subscribe registers handler to be invoked for every message received
	// on subject. Multiple subscriptions on the same subject are independent.
	Subscribe(ctx context.Context, subject string, handler Handler) (SubscriptionHandle, error)

	// Unsubscribe stops delivery to the handler registered under handle.
	Unsubscribe(handle SubscriptionHandle) error

	// IsConnected reports the client's current connection state.
	IsConnected() bool

	// Close releases all resources and stops background reconnection.
	Close() error
}

// SubjectForUser returns the per-user world update subject (§6.2 pub/sub
// subject schema: world.updates.user.<user_id>).
func SubjectForUser(userID string) string {
	return fmt.Sprintf("world.updates.user.%s", userID)
}
