package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/learnitin/api/internal/config"
	obsmetrics "github.com/learnitin/api/internal/observability/metrics"
	"github.com/learnitin/api/pkg/log/ctxlogger"
	"github.com/learnitin/api/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("event_queue_full")
	ErrBusClosed = errors.New("event_bus_closed")
	ErrNilEvent  = errors.New("nil_event")
)

// Handler processes one event. Each call runs in its own goroutine-owned context.
type Handler func(ctx context.Context, event Event) error

type envelope struct {
	ctx   context.Context
	event Event
}

// Bus dispatches events to registered handlers on a fixed worker pool.
type Bus struct {
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	workers int
	timeout time.Duration
	queue   chan envelope

	handlersMu sync.RWMutex
	handlers   map[Kind][]Handler

	stateMu sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewBus(cfg config.EventsConfig, log *zap.Logger, metrics *obsmetrics.Metrics) *Bus {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bus{
		log:      log.Named("events.bus"),
		metrics:  metrics,
		workers:  workers,
		timeout:  timeout,
		queue:    make(chan envelope, size),
		handlers: make(map[Kind][]Handler),
	}
}

func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Publish enqueues event without blocking. The request context is detached so
// cancellation of the caller does not cancel the handler.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	ctx, _ = correlation.EnsureCorrelationID(ctx)
	select {
	case b.queue <- envelope{ctx: correlation.Detach(ctx), event: event}:
		return nil
	default:
		b.metrics.RecordEventDispatched(ctx, string(event.Kind()), "queue_full")
		return ErrQueueFull
	}
}

func (b *Bus) Start() {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.run()
	}
	b.log.Info("event bus started", zap.Int("workers", b.workers), zap.Int("queue_size", cap(b.queue)))
}

// Stop refuses new events, drains the queue and waits for workers or ctx.
func (b *Bus) Stop(ctx context.Context) error {
	b.stateMu.Lock()
	if b.closed {
		b.stateMu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	started := b.started
	b.stateMu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("event bus drained")
		return nil
	case <-ctx.Done():
		b.log.Warn("event bus stop timed out", zap.Int("pending", len(b.queue)))
		return ctx.Err()
	}
}

func (b *Bus) run() {
	defer b.wg.Done()
	for env := range b.queue {
		b.dispatch(env)
	}
}

func (b *Bus) dispatch(env envelope) {
	kind := env.event.Kind()

	b.handlersMu.RLock()
	handlers := append([]Handler(nil), b.handlers[kind]...)
	b.handlersMu.RUnlock()

	ctx := ctxlogger.ContextWithEventKind(env.ctx, string(kind))
	log := ctxlogger.WithContext(ctx, b.log)

	if len(handlers) == 0 {
		log.Warn("no handler registered for event")
		b.metrics.RecordEventDispatched(ctx, string(kind), "unhandled")
		return
	}

	for _, handler := range handlers {
		if err := b.invoke(ctx, env.event, handler); err != nil {
			log.Error("event handler failed", zap.Error(err))
			b.metrics.RecordEventDispatched(ctx, string(kind), "error")
			continue
		}
		b.metrics.RecordEventDispatched(ctx, string(kind), "ok")
	}
}

func (b *Bus) invoke(ctx context.Context, event Event, handler Handler) (err error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ctx, span := otel.Tracer("learnitin/events").Start(ctx, "events.dispatch")
	span.SetAttributes(attribute.String("event.kind", string(event.Kind())))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
		}
		span.End()
	}()

	return handler(ctx, event)
}
