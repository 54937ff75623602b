package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/classvest/achievement-engine/internal/domain/shared"
	"github.com/classvest/achievement-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Message is one message received from a channel.
type Message struct {
	Channel string
	Payload string
}

// PubSubClient is the subset of Redis pub/sub the bus needs.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe listens on every channel matching pattern until ctx is done.
	Subscribe(ctx context.Context, pattern string) (<-chan Message, func() error, error)
}

// GoRedisClient adapts a go-redis client to PubSubClient.
type GoRedisClient struct {
	client *redis.Client
}

// NewGoRedisClient wraps client.
func NewGoRedisClient(client *redis.Client) *GoRedisClient {
	return &GoRedisClient{client: client}
}

// Publish implements PubSubClient.
func (c *GoRedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.client.Publish(ctx, channel, payload).Err()
}

// Subscribe implements PubSubClient.
func (c *GoRedisClient) Subscribe(ctx context.Context, pattern string) (<-chan Message, func() error, error) {
	ps := c.client.PSubscribe(ctx, pattern)
	// Receive waits for the subscription confirmation.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, ps.Close, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisEventBusConfig configures a RedisEventBus.
type RedisEventBusConfig struct {
	// ChannelPrefix is prepended to the event type to form the channel name.
	ChannelPrefix  string
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// DefaultRedisEventBusConfig returns the defaults.
func DefaultRedisEventBusConfig(logger *slog.Logger) RedisEventBusConfig {
	if logger == nil {
		logger = slog.Default()
	}
	return RedisEventBusConfig{
		ChannelPrefix:  "achievements:events:",
		PublishTimeout: 2 * time.Second,
		Logger:         logger,
	}
}

// RedisEventBus delivers every event to local subscribers and mirrors it to
// Redis for other instances. Events received from Redis are delivered to local
// subscribers only, and this instance's own messages are skipped.
type RedisEventBus struct {
	local      *InMemoryEventBus
	client     PubSubClient
	breaker    *circuitbreaker.CircuitBreaker
	config     RedisEventBusConfig
	instanceID string
	logger     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	closeFn func() error
	done    chan struct{}
}

// NewRedisEventBus creates a bus on top of local. breaker may be nil.
func NewRedisEventBus(local *InMemoryEventBus, client PubSubClient, breaker *circuitbreaker.CircuitBreaker, cfg RedisEventBusConfig) *RedisEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultRedisEventBusConfig(cfg.Logger).ChannelPrefix
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if breaker == nil {
		breaker = circuitbreaker.EventBusBreaker(func(name string, from, to circuitbreaker.State) {
			cfg.Logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
	}
	return &RedisEventBus{
		local:      local,
		client:     client,
		breaker:    breaker,
		config:     cfg,
		instanceID: uuid.NewString(),
		logger:     cfg.Logger,
	}
}

// InstanceID identifies this process on the shared channel.
func (b *RedisEventBus) InstanceID() string { return b.instanceID }

// Subscribe implements shared.EventSubscriber.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll implements shared.EventSubscriber.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish delivers locally, then mirrors to Redis. A Redis failure is logged
// and never fails the caller.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if err := b.local.Publish(event); err != nil {
		return err
	}

	data, err := b.encode(event)
	if err != nil {
		b.logger.Error("failed to encode event", "event_type", event.EventType(), "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.PublishTimeout)
	defer cancel()

	channel := b.config.ChannelPrefix + string(event.EventType())
	err = b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.client.Publish(ctx, channel, data)
	})
	switch {
	case circuitbreaker.IsRejected(err):
		b.logger.Debug("redis publish skipped", "event_type", event.EventType(), "reason", err)
	case err != nil:
		b.logger.Warn("redis publish failed, delivered locally only", "event_type", event.EventType(), "error", err)
	}
	return nil
}

func (b *RedisEventBus) encode(event shared.Event) ([]byte, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(shared.EventEnvelope{
		ID:          uuid.NewString(),
		InstanceID:  b.instanceID,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Payload:     payload,
	})
}

// Start subscribes to the shared channel and forwards remote events to local
// subscribers until ctx is cancelled or Close is called.
func (b *RedisEventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		return errors.New("redis event bus already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	msgs, closeFn, err := b.client.Subscribe(ctx, b.config.ChannelPrefix+"*")
	if err != nil {
		cancel()
		return err
	}
	b.cancel = cancel
	b.closeFn = closeFn
	b.done = make(chan struct{})

	go b.listen(msgs, b.done)
	b.logger.Info("redis event bus started", "instance_id", b.instanceID, "pattern", b.config.ChannelPrefix+"*")
	return nil
}

func (b *RedisEventBus) listen(msgs <-chan Message, done chan struct{}) {
	defer close(done)
	for msg := range msgs {
		b.handleMessage(msg)
	}
}

func (b *RedisEventBus) handleMessage(msg Message) {
	var env shared.EventEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Warn("dropping malformed event message", "channel", msg.Channel, "error", err)
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	if !strings.HasPrefix(msg.Channel, b.config.ChannelPrefix) {
		return
	}

	event, err := NewRemoteEvent(env)
	if err != nil {
		b.logger.Warn("dropping undecodable event payload", "event_type", env.Type, "error", err)
		return
	}
	if err := b.local.Publish(event); err != nil {
		b.logger.Warn("failed to deliver remote event", "event_type", env.Type, "error", err)
	}
}

// Close stops the subscription. The local bus is left to its owner.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	cancel, closeFn, done := b.cancel, b.closeFn, b.done
	b.cancel, b.closeFn = nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	var err error
	if closeFn != nil {
		err = closeFn()
	}
	<-done
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE EVENT
// ══════════════════════════════════════════════════════════════════════════════

// RemoteEvent is an event received from another instance.
type RemoteEvent struct {
	ID         string
	InstanceID string
	Type       shared.EventType
	Aggregate  string
	Timestamp  time.Time
	Data       map[string]interface{}
}

// NewRemoteEvent decodes an envelope.
func NewRemoteEvent(env shared.EventEnvelope) (*RemoteEvent, error) {
	data := make(map[string]interface{})
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &data); err != nil {
			return nil, err
		}
	}
	return &RemoteEvent{
		ID:         env.ID,
		InstanceID: env.InstanceID,
		Type:       env.Type,
		Aggregate:  env.AggregateID,
		Timestamp:  env.Timestamp,
		Data:       data,
	}, nil
}

func (e *RemoteEvent) EventType() shared.EventType     { return e.Type }
func (e *RemoteEvent) OccurredAt() time.Time           { return e.Timestamp }
func (e *RemoteEvent) AggregateID() string             { return e.Aggregate }
func (e *RemoteEvent) Payload() map[string]interface{} { return e.Data }
