package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-redis/redis/v9"

	"github.com/kestrel-run/aoi-runtime/internal/opsnotify"
)

// RedisConfig configures a [RedisClient]'s connection to the pub/sub backend.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisClient is a [Client] backed by Redis pub/sub. Disconnection is
// transparent to callers: an internal [Reconnector] monitors the connection
// and re-establishes it with exponential backoff, resubscribing every
// handler registered before the drop (§4.1: "subscription loss triggers
// automatic resubscription on reconnect").
type RedisClient struct {
	cfg RedisConfig

	mu        sync.Mutex
	rdb       *redis.Client
	subs      map[string]map[uint64]*redisSubscription
	nextID    uint64
	connected atomic.Bool
	notifier  opsnotify.Notifier

	reconnector *Reconnector[*redis.Client]
}

// SetNotifier installs n as the best-effort ops notification sink for
// connection-loss/reconnect events (SPEC_FULL.md's "Supplemented feature 1:
// admin ops notifications" — "the event bus client loses and regains its
// connection"). Must be called before [RedisClient.Connect]; nil disables
// notification.
func (c *RedisClient) SetNotifier(n opsnotify.Notifier) {
	c.notifier = n
}

func (c *RedisClient) notify(message string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(context.Background(), "event bus: "+message)
}

type redisSubscription struct {
	subject string
	handler Handler
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
}

// NewRedisClient creates a RedisClient. Call Connect before use.
func NewRedisClient(cfg RedisConfig) *RedisClient {
	c := &RedisClient{
		cfg:  cfg,
		subs: make(map[string]map[uint64]*redisSubscription),
	}
	c.reconnector = NewReconnector(ReconnectorConfig[*redis.Client]{
		Dial:        c.dial,
		OnReconnect: c.resubscribeAll,
	})
	return c
}

func (c *RedisClient) dial(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Addr,
		Username: c.cfg.Username,
		Password: c.cfg.Password,
		DB:       c.cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("eventbus: redis ping: %w", err)
	}
	return rdb, nil
}

// Connect establishes the initial connection to Redis and starts the
// background reconnection monitor.
func (c *RedisClient) Connect(ctx context.Context) error {
	rdb, err := c.reconnector.Connect(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rdb = rdb
	c.mu.Unlock()
	c.connected.Store(true)
	c.reconnector.Monitor(ctx)
	return nil
}

// Publish sends payload on subject via Redis PUBLISH. Publish failures here
// are the caller's concern to swallow; wrap the client in a [PublishGuard]
// to get the "never fail a state write" contract automatically.
func (c *RedisClient) Publish(ctx context.Context, subject string, payload []byte) error {
	c.mu.Lock()
	rdb := c.rdb
	c.mu.Unlock()
	if rdb == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	if err := rdb.Publish(ctx, subject, payload).Err(); err != nil {
		if c.connected.CompareAndSwap(true, false) {
			c.notify("lost connection, reconnecting")
		}
		c.reconnector.NotifyDisconnect()
		return fmt.Errorf("eventbus: publish %q: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for subject and starts a goroutine delivering
// messages to it in receive order.
func (c *RedisClient) Subscribe(ctx context.Context, subject string, handler Handler) (SubscriptionHandle, error) {
	c.mu.Lock()
	rdb := c.rdb
	if rdb == nil {
		c.mu.Unlock()
		return SubscriptionHandle{}, ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	sub := c.startSubscription(rdb, subject, handler)

	c.mu.Lock()
	if c.subs[subject] == nil {
		c.subs[subject] = make(map[uint64]*redisSubscription)
	}
	c.subs[subject][id] = sub
	c.mu.Unlock()

	return SubscriptionHandle{Subject: subject, ID: id}, nil
}

func (c *RedisClient) startSubscription(rdb *redis.Client, subject string, handler Handler) *redisSubscription {
	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := rdb.Subscribe(subCtx, subject)
	ch := pubsub.Channel()

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if c.connected.CompareAndSwap(true, false) {
						c.notify("lost connection, reconnecting")
					}
					c.reconnector.NotifyDisconnect()
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return &redisSubscription{subject: subject, handler: handler, pubsub: pubsub, cancel: cancel}
}

// Unsubscribe stops delivery for handle.
func (c *RedisClient) Unsubscribe(handle SubscriptionHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	subsForSubject, ok := c.subs[handle.Subject]
	if !ok {
		return nil
	}
	sub, ok := subsForSubject[handle.ID]
	if !ok {
		return nil
	}
	sub.cancel()
	_ = sub.pubsub.Close()
	delete(subsForSubject, handle.ID)
	if len(subsForSubject) == 0 {
		delete(c.subs, handle.Subject)
	}
	return nil
}

// IsConnected reports the client's connection state.
func (c *RedisClient) IsConnected() bool {
	return c.connected.Load()
}

// Close stops reconnection monitoring and closes every active subscription
// and the underlying Redis client.
func (c *RedisClient) Close() error {
	c.connected.Store(false)
	_ = c.reconnector.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, subs := range c.subs {
		for _, sub := range subs {
			sub.cancel()
			_ = sub.pubsub.Close()
		}
	}
	c.subs = make(map[string]map[uint64]*redisSubscription)
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// resubscribeAll is the reconnector's OnReconnect callback: it re-issues
// every subscription recorded before the drop against the new connection.
func (c *RedisClient) resubscribeAll(rdb *redis.Client) {
	c.mu.Lock()
	c.rdb = rdb
	old := c.subs
	c.subs = make(map[string]map[uint64]*redisSubscription)
	c.mu.Unlock()
	c.connected.Store(true)
	c.notify("connection restored")

	for _, subs := range old {
		for id, oldSub := range subs {
			oldSub.cancel()
			_ = oldSub.pubsub.Close()

			newSub := c.startSubscription(rdb, oldSub.subject, oldSub.handler)
			c.mu.Lock()
			if c.subs[oldSub.subject] == nil {
				c.subs[oldSub.subject] = make(map[uint64]*redisSubscription)
			}
			c.subs[oldSub.subject][id] = newSub
			c.mu.Unlock()
		}
	}
}

var _ Client = (*RedisClient)(nil)
