// Package correlation issues outbound CALLs and matches the CALLRESULT or CALLERROR
// that answers each of them.
package correlation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/events"
	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocppgate/backend/services/ocpp-server/internal/registry"
)

const (
	defaultCallTimeout = 30 * time.Second
	maxIDAttempts      = 8
)

var idGenerator = uuid.NewString

// ConnectionSource resolves an identity to candidate connections, live one first.
type ConnectionSource interface {
	LookupAll(identity string) []registry.Connection
}

type outcome struct {
	payload json.RawMessage
	err     *CallError
}

// PendingRequest is an outstanding CALL. It reaches a terminal state exactly once.
type PendingRequest struct {
	RequestID string
	Identity  string
	Action    string
	Payload   json.RawMessage
	SentAt    time.Time
	Deadline  time.Time

	done     chan struct{}
	resolved atomic.Bool
	result   outcome
}

func (p *PendingRequest) complete(res outcome) bool {
	if !p.resolved.CompareAndSwap(false, true) {
		return false
	}
	p.result = res
	close(p.done)
	return true
}

func (p *PendingRequest) fail(kind Kind, cause error) bool {
	return p.complete(outcome{err: &CallError{
		Kind:      kind,
		Identity:  p.Identity,
		Action:    p.Action,
		RequestID: p.RequestID,
		Err:       cause,
	}})
}

// Engine correlates outbound CALLs with their responses. It implements
// ocpp.ResponseSink.
type Engine struct {
	conns          ConnectionSource
	defaultTimeout time.Duration
	bus            *events.Bus
	logger         *zap.Logger

	mu      sync.Mutex
	pending map[string]*PendingRequest
	closed  bool
}

// NewEngine builds an engine sending through conns. A zero defaultTimeout means 30s.
func NewEngine(conns ConnectionSource, defaultTimeout time.Duration, bus *events.Bus, logger *zap.Logger) *Engine {
	if defaultTimeout <= 0 {
		defaultTimeout = defaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		conns:          conns,
		defaultTimeout: defaultTimeout,
		bus:            bus,
		logger:         logger,
		pending:        make(map[string]*PendingRequest),
	}
}

// Call sends action to identity and blocks until the response arrives, the timeout
// elapses or ctx is done. payload may be a json.RawMessage or any value encodable as
// a JSON object. A zero timeout uses the engine default. Failures are *CallError.
func (e *Engine) Call(ctx context.Context, identity, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	body, err := encodePayload(payload)
	if err != nil {
		return nil, &CallError{Kind: KindInternalError, Identity: identity, Action: action, Err: err}
	}

	req, err := e.insert(identity, action, body, timeout)
	if err != nil {
		return nil, err
	}

	e.transmit(ctx, req)

	timer := time.NewTimer(time.Until(req.Deadline))
	defer timer.Stop()

	select {
	case <-req.done:
	case <-timer.C:
		req.fail(KindTimeout, nil)
	case <-ctx.Done():
		req.fail(KindCancelled, ctx.Err())
	}
	<-req.done

	if !e.remove(req.RequestID) {
		e.logger.Error("pending request missing from table at completion",
			zap.String("station_id", identity),
			zap.String("request_id", req.RequestID))
	}

	res := req.result
	ev := events.Event{
		Identity:  identity,
		Action:    action,
		RequestID: req.RequestID,
		Duration:  time.Since(req.SentAt),
	}
	if res.err != nil {
		ev.Type = events.CallFailed
		ev.Result = res.err.Kind.String()
		ev.Err = res.err
		e.bus.Publish(ev)
		return nil, res.err
	}
	ev.Type = events.CallCompleted
	e.bus.Publish(ev)
	return res.payload, nil
}

func (e *Engine) insert(identity, action string, body json.RawMessage, timeout time.Duration) (*PendingRequest, error) {
	now := time.Now()
	req := &PendingRequest{
		Identity: identity,
		Action:   action,
		Payload:  body,
		SentAt:   now,
		Deadline: now.Add(timeout),
		done:     make(chan struct{}),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, &CallError{Kind: KindCancelled, Identity: identity, Action: action, Err: ErrEngineClosed}
	}
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := idGenerator()
		if _, taken := e.pending[id]; taken || id == "" {
			continue
		}
		req.RequestID = id
		e.pending[id] = req
		return req, nil
	}
	return nil, &CallError{Kind: KindInternalError, Identity: identity, Action: action,
		Err: fmt.Errorf("no unique request id after %d attempts", maxIDAttempts)}
}

// transmit sends the CALL to the first candidate that accepts it. Candidates after the
// one that succeeded are stale duplicates and get closed.
func (e *Engine) transmit(ctx context.Context, req *PendingRequest) {
	candidates := e.conns.LookupAll(req.Identity)
	if len(candidates) == 0 {
		req.fail(KindUnknownClient, nil)
		return
	}

	frame, err := ocpp.NewCall(req.RequestID, req.Action, req.Payload).Encode()
	if err != nil {
		req.fail(KindInternalError, err)
		return
	}

	var lastErr error
	for i, conn := range candidates {
		if err := conn.Send(ctx, frame); err != nil {
			lastErr = err
			e.logger.Debug("send call failed, trying next connection",
				zap.String("station_id", req.Identity),
				zap.String("conn", conn.ID()),
				zap.Error(err))
			continue
		}
		for _, stale := range candidates[i+1:] {
			go e.closeStale(req.Identity, stale)
		}
		e.bus.Publish(events.Event{Type: events.CallSent, Identity: req.Identity, Action: req.Action, RequestID: req.RequestID})
		return
	}
	req.fail(KindTransmissionFailed, lastErr)
}

func (e *Engine) closeStale(identity string, conn registry.Connection) {
	if err := conn.Close(); err != nil {
		e.logger.Debug("close stale connection failed", zap.String("station_id", identity), zap.Error(err))
	}
}

func (e *Engine) remove(requestID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[requestID]; !ok {
		return false
	}
	delete(e.pending, requestID)
	return true
}

func (e *Engine) lookup(requestID string) *PendingRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[requestID]
}

// Resolve completes the request with a CALLRESULT payload. It reports false when the
// id is unknown or the request already completed.
func (e *Engine) Resolve(requestID string, payload json.RawMessage) bool {
	req := e.lookup(requestID)
	if req == nil {
		e.logger.Debug("dropping result for unknown request", zap.String("request_id", requestID))
		return false
	}
	return req.complete(outcome{payload: payload})
}

// ResolveError completes the request with the peer's CALLERROR.
func (e *Engine) ResolveError(requestID string, code protocol.ErrorCode, description string, details json.RawMessage) bool {
	req := e.lookup(requestID)
	if req == nil {
		e.logger.Debug("dropping error for unknown request", zap.String("request_id", requestID))
		return false
	}
	return req.complete(outcome{err: &CallError{
		Kind:        KindProtocolError,
		Identity:    req.Identity,
		Action:      req.Action,
		RequestID:   requestID,
		Code:        code,
		Description: description,
		Details:     details,
	}})
}

// Pending returns the number of outstanding requests.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close cancels every outstanding request and rejects new calls.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	reqs := make([]*PendingRequest, 0, len(e.pending))
	for _, req := range e.pending {
		reqs = append(reqs, req)
	}
	e.mu.Unlock()

	for _, req := range reqs {
		req.fail(KindCancelled, ErrEngineClosed)
	}
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	var body json.RawMessage
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		body = p
	case []byte:
		body = json.RawMessage(p)
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = encoded
	}
	// a CALL payload is always a JSON object
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, errors.New("encode payload: not a JSON object")
	}
	return body, nil
}
