package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type names an event published on the Bus.
type Type string

const (
	ConnectionRegistered   Type = "connection.registered"
	ConnectionReplaced     Type = "connection.replaced"
	ConnectionUnregistered Type = "connection.unregistered"

	CallSent      Type = "call.sent"
	CallCompleted Type = "call.completed"
	CallFailed    Type = "call.failed"

	ForwardReceived Type = "forward.received"
	ForwardFiltered Type = "forward.filtered"
	ForwardSent     Type = "forward.sent"
)

// Event is a notification about a connection, an outbound call or a forwarded message.
type Event struct {
	Type      Type          `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Identity  string        `json:"identity,omitempty"`
	Action    string        `json:"action,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	Result    string        `json:"result,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
}

// Handler consumes events. It runs on the publisher's goroutine and must not block.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus fans events out to subscribers in registration order. A panicking subscriber is
// logged and skipped; the remaining subscribers still run. A nil *Bus drops everything.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	byType map[Type][]subscription
	all    []subscription
	logger *zap.Logger
}

// NewBus returns an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		byType: make(map[Type][]subscription),
		logger: logger,
	}
}

// Subscribe registers handler for one event type and returns its unsubscribe func.
func (b *Bus) Subscribe(t Type, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.byType[t] = append(b.byType[t], subscription{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[t] = remove(b.byType[t], id)
	}
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// Publish delivers ev synchronously. Timestamp and Error are filled in when empty.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Err != nil && ev.Error == "" {
		ev.Error = ev.Err.Error()
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.byType[ev.Type])+len(b.all))
	targets = append(targets, b.byType[ev.Type]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub subscription, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("event", string(ev.Type)),
				zap.Uint64("subscriber", sub.id),
				zap.Any("panic", rec))
		}
	}()
	sub.handler(ev)
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
