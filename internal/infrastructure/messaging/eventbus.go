// Package messaging delivers domain events between the engine's components.
// InMemoryEventBus serves a single process; RedisEventBus fans events out
// over Redis pub/sub so the API and the worker see each other's events.
package messaging

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/classvest/achievement-engine/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned when the bus was closed.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures an InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on goroutines bounded by WorkerPoolSize.
	AsyncMode      bool
	WorkerPoolSize int
	Logger         *slog.Logger
	Middlewares    []Middleware
}

// DefaultInMemoryEventBusConfig returns async delivery with recovery and logging.
func DefaultInMemoryEventBusConfig(logger *slog.Logger) InMemoryEventBusConfig {
	if logger == nil {
		logger = slog.Default()
	}
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		Logger:         logger,
		Middlewares:    []Middleware{RecoveryMiddleware(logger), LoggingMiddleware(logger)},
	}
}

// InMemoryEventBus implements shared.EventBus inside one process.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	middlewares []Middleware
	async       bool
	workers     chan struct{}
	logger      *slog.Logger
	metrics     *EventBusMetrics
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// NewInMemoryEventBus creates a new bus.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	return &InMemoryEventBus{
		handlers:    make(map[shared.EventType][]shared.EventHandler),
		middlewares: cfg.Middlewares,
		async:       cfg.AsyncMode,
		workers:     make(chan struct{}, cfg.WorkerPoolSize),
		logger:      cfg.Logger,
		metrics:     NewEventBusMetrics(),
		closeCh:     make(chan struct{}),
	}
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], Chain(handler, b.middlewares...))
	return nil
}

// SubscribeAll registers a handler for every event.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.allHandlers = append(b.allHandlers, Chain(handler, b.middlewares...))
	return nil
}

// Publish delivers the event to matching handlers. Handler errors are logged,
// never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	if b.async {
		b.wg.Add(len(handlers))
	}
	b.mu.RUnlock()

	b.metrics.RecordPublish(event.EventType())

	for _, h := range handlers {
		if b.async {
			go b.runAsync(event, h)
			continue
		}
		b.run(event, h)
	}
	return nil
}

func (b *InMemoryEventBus) runAsync(event shared.Event, handler shared.EventHandler) {
	defer b.wg.Done()
	select {
	case b.workers <- struct{}{}:
		defer func() { <-b.workers }()
	case <-b.closeCh:
		return
	}
	b.run(event, handler)
}

func (b *InMemoryEventBus) run(event shared.Event, handler shared.EventHandler) {
	start := time.Now()
	err := handler(event)
	b.metrics.RecordHandlerExecution(time.Since(start), err == nil)
	if err != nil {
		b.logger.Error("event handler failed", "event_type", event.EventType(), "error", err)
	}
}

// Wait blocks until in-flight async handlers finish.
func (b *InMemoryEventBus) Wait() { b.wg.Wait() }

// Close stops accepting events and waits for running handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// Metrics returns the bus counters.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics { return b.metrics }

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts publishes and handler outcomes.
type EventBusMetrics struct {
	mu               sync.Mutex
	published        map[shared.EventType]int64
	handlerRuns      int64
	handlerFailures  int64
	handlerTotalTime time.Duration
}

// NewEventBusMetrics creates empty counters.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{published: make(map[shared.EventType]int64)}
}

// RecordPublish counts one published event.
func (m *EventBusMetrics) RecordPublish(t shared.EventType) {
	m.mu.Lock()
	m.published[t]++
	m.mu.Unlock()
}

// RecordHandlerExecution counts one handler run.
func (m *EventBusMetrics) RecordHandlerExecution(d time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlerRuns++
	m.handlerTotalTime += d
	if !success {
		m.handlerFailures++
	}
}

// EventBusMetricsSnapshot is a point-in-time copy of the counters.
type EventBusMetricsSnapshot struct {
	Published          map[shared.EventType]int64 `json:"published"`
	HandlerRuns        int64                      `json:"handler_runs"`
	HandlerFailures    int64                      `json:"handler_failures"`
	AverageHandlerTime time.Duration              `json:"average_handler_time"`
}

// Snapshot copies the counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := EventBusMetricsSnapshot{
		Published:       make(map[shared.EventType]int64, len(m.published)),
		HandlerRuns:     m.handlerRuns,
		HandlerFailures: m.handlerFailures,
	}
	for k, v := range m.published {
		s.Published[k] = v
	}
	if m.handlerRuns > 0 {
		s.AverageHandlerTime = m.handlerTotalTime / time.Duration(m.handlerRuns)
	}
	return s
}
