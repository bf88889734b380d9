package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	webhookQueueSize   = 256
	webhookTimeout     = 5 * time.Second
	webhookMaxFailures = 5
	webhookOpenTimeout = 30 * time.Second
)

// WebhookSink posts events as JSON to an HTTP endpoint. Delivery is asynchronous and
// best effort: events are dropped when the queue is full or the breaker is open.
type WebhookSink struct {
	url     string
	types   map[Type]bool
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	queue   chan Event
	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewWebhookSink returns a sink for url. An empty types list forwards every event.
func NewWebhookSink(url string, types []Type, logger *zap.Logger) *WebhookSink {
	filter := make(map[Type]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	return &WebhookSink{
		url:   url,
		types: filter,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "webhook",
			MaxRequests: 1,
			Timeout:     webhookOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= webhookMaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		queue:  make(chan Event, webhookQueueSize),
		logger: logger,
	}
}

// Handle enqueues ev without blocking. Subscribe it with Bus.SubscribeAll.
func (s *WebhookSink) Handle(ev Event) {
	if len(s.types) > 0 && !s.types[ev.Type] {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (s *WebhookSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Run delivers queued events until ctx is cancelled.
func (s *WebhookSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			if err := s.deliver(ctx, ev); err != nil {
				s.logger.Debug("webhook delivery failed", zap.String("event", string(ev.Type)), zap.Error(err))
			}
		}
	}
}

func (s *WebhookSink) deliver(ctx context.Context, ev Event) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, ev)
	})
	return err
}

func (s *WebhookSink) post(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("webhook request failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("events: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
