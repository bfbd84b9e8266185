// Package mock provides an in-memory eventbus.Client for tests that need a
// working pub/sub without a Redis backend.
package mock

import (
	"context"
	"sync"

	"github.com/kestrel-run/aoi-runtime/internal/eventbus"
)

// Bus is an in-process, goroutine-safe eventbus.Client. Publish delivers
// synchronously to every handler subscribed on the subject at call time;
// the order among several handlers on one subject is not defined.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]eventbus.Handler

	published []Published
	connected bool
}

// Published records one call to Publish, for test assertions.
type Published struct {
	Subject string
	Payload []byte
}

// New creates an empty, disconnected Bus. Call Connect before use.
func New() *Bus {
	return &Bus{subs: make(map[string]map[uint64]eventbus.Handler)}
}

// Connect marks the bus connected. Always succeeds.
func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

// Publish records the call and invokes every handler subscribed on subject.
func (b *Bus) Publish(ctx context.Context, subject string, payload []byte) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return eventbus.ErrNotConnected
	}
	b.published = append(b.published, Published{Subject: subject, Payload: payload})
	handlers := make([]eventbus.Handler, 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

// Subscribe registers handler for subject.
func (b *Bus) Subscribe(ctx context.Context, subject string, handler eventbus.Handler) (eventbus.SubscriptionHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[uint64]eventbus.Handler)
	}
	b.subs[subject][id] = handler
	return eventbus.SubscriptionHandle{Subject: subject, ID: id}, nil
}

// Unsubscribe removes the handler registered under handle.
func (b *Bus) Unsubscribe(handle eventbus.SubscriptionHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[handle.Subject]; ok {
		delete(subs, handle.ID)
		if len(subs) == 0 {
			delete(b.subs, handle.Subject)
		}
	}
	return nil
}

// IsConnected reports the bus's connection state.
func (b *Bus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Close marks the bus disconnected and drops all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.subs = make(map[string]map[uint64]eventbus.Handler)
	return nil
}

// Published returns every payload published so far, for test assertions.
func (b *Bus) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

var _ eventbus.Client = (*Bus)(nil)
