// Package dispatcher routes inbound envelopes to handlers by message type.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modsync/vehicle/pkg/streaming"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrUnknownType is returned for envelopes nobody registered for.
	ErrUnknownType = errors.New("unknown message type")
	// ErrQueueFull is returned when a non-blocking buffered handler drops.
	ErrQueueFull = errors.New("queue full")
	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerFunc processes one envelope.
type HandlerFunc func(streaming.Envelope) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes envelopes to registered handlers.
type Dispatcher struct {
	logger Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	buffers  map[string]chan streaming.Envelope
	closed   bool
	workers  sync.WaitGroup
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		buffers:  make(map[string]chan streaming.Envelope),
		logger:   logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of envelopes in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for typ, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("type", typ)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.envelopes.processed",
		metric.WithDescription("Total envelopes processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.envelopes.dropped",
		metric.WithDescription("Total envelopes dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given message type with optional configuration.
// Registering a type again replaces its handler.
func (d *Dispatcher) Register(msgType string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(msgType, handler)
	}

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(msgType, cfg.bufferSize, cfg.blocking, handler)
	}

	d.mu.Lock()
	d.handlers[msgType] = handler
	d.mu.Unlock()
}

// Dispatch routes an envelope to its registered handler. Handlers must not
// call Register or Close. A handler panic is returned as ErrHandlerPanic.
func (d *Dispatcher) Dispatch(env streaming.Envelope) (err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h, ok := d.handlers[env.Type]
	if d.closed {
		return fmt.Errorf("dispatcher closed")
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "type", env.Type, "from", string(env.From), "panic", fmt.Sprint(r))
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, env.Type, r)
		}
	}()
	return h(env)
}

// Handle is Dispatch shaped as a transport handler: failures are logged.
func (d *Dispatcher) Handle(env streaming.Envelope) {
	if err := d.Dispatch(env); err != nil {
		d.logger.Debug("envelope not handled", "type", env.Type, "from", string(env.From), "error", err)
	}
}

// HasHandler returns true if a handler is registered for the type.
func (d *Dispatcher) HasHandler(msgType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[msgType]
	return ok
}

// Close stops accepting envelopes and waits for buffered handlers to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()
	d.workers.Wait()
}

func (d *Dispatcher) withBuffer(msgType string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan streaming.Envelope, size)

	d.mu.Lock()
	d.buffers[msgType] = buffer
	d.mu.Unlock()

	typeAttr := attribute.String("type", msgType)

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for env := range buffer {
			if err := h(env); err != nil {
				d.logger.Error("buffered handler failed", "type", msgType, "error", err)
			}
			d.processed.Add(context.Background(), 1, metric.WithAttributes(typeAttr))
		}
	}()

	if blocking {
		return func(env streaming.Envelope) error {
			buffer <- env
			return nil
		}
	}

	return func(env streaming.Envelope) error {
		select {
		case buffer <- env:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(typeAttr))
			return fmt.Errorf("%w: %s", ErrQueueFull, msgType)
		}
	}
}

func (d *Dispatcher) withLogging(msgType string, h HandlerFunc) HandlerFunc {
	return func(env streaming.Envelope) error {
		start := time.Now()
		d.logger.Debug("handling envelope", "type", msgType, "object", string(env.Object), "from", string(env.From))

		err := h(env)

		if err != nil {
			d.logger.Error("envelope failed", "type", msgType, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("envelope complete", "type", msgType, "duration", time.Since(start))
		}

		return err
	}
}
