package eventbus

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// PublishGuard wraps a [Client] and makes Publish non-fatal: failures are
// logged and swallowed so a state write never fails because the bus is
// unavailable (§4.1: "publish failures are logged and swallowed"). Connect,
// Subscribe, Unsubscribe, IsConnected, and Close pass through unchanged.
//
// All methods are safe for concurrent use.
type PublishGuard struct {
	client   Client
	degraded atomic.Bool
}

// NewPublishGuard wraps client in a PublishGuard.
func NewPublishGuard(client Client) *PublishGuard {
	return &PublishGuard{client: client}
}

// Connect delegates to the wrapped client.
func (g *PublishGuard) Connect(ctx context.Context) error {
	return g.client.Connect(ctx)
}

// Publish attempts to publish payload on subject. On failure the error is
// logged and swallowed; Publish always returns nil.
func (g *PublishGuard) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := g.client.Publish(ctx, subject, payload); err != nil {
		g.degraded.Store(true)
		slog.Warn("eventbus: publish failed, swallowing error", "subject", subject, "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Subscribe delegates to the wrapped client.
func (g *PublishGuard) Subscribe(ctx context.Context, subject string, handler Handler) (SubscriptionHandle, error) {
	return g.client.Subscribe(ctx, subject, handler)
}

// Unsubscribe delegates to the wrapped client.
func (g *PublishGuard) Unsubscribe(handle SubscriptionHandle) error {
	return g.client.Unsubscribe(handle)
}

// IsConnected delegates to the wrapped client.
func (g *PublishGuard) IsConnected() bool {
	return g.client.IsConnected()
}

// Close delegates to the wrapped client.
func (g *PublishGuard) Close() error {
	return g.client.Close()
}

// IsDegraded reports whether the most recent publish failed.
func (g *PublishGuard) IsDegraded() bool {
	return g.degraded.Load()
}

var _ Client = (*PublishGuard)(nil)
