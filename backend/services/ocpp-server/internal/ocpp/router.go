package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
)

// Message directions recorded by MessageLog.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// HandlerFunc processes a CALL payload and returns the CALLRESULT body.
type HandlerFunc func(ctx context.Context, identity string, payload json.RawMessage) (interface{}, error)

// ResponseSink receives CALLRESULT and CALLERROR frames. It reports false when the
// request id matches nothing outstanding.
type ResponseSink interface {
	Resolve(requestID string, payload json.RawMessage) bool
	ResolveError(requestID string, code protocol.ErrorCode, description string, details json.RawMessage) bool
}

// MessageLog stores raw frames. Failures are ignored by the router.
type MessageLog interface {
	Save(ctx context.Context, identity, direction, action string, payload []byte) error
}

// Router dispatches OCPP frames arriving on one side of the node: CALLs go to the
// handler registered for their action, responses go to the ResponseSink.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	sink   ResponseSink
	msgLog MessageLog
	logger *zap.Logger
}

// NewRouter returns a router. sink and msgLog may be nil.
func NewRouter(sink ResponseSink, msgLog MessageLog, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		handlers: make(map[string]HandlerFunc),
		sink:     sink,
		msgLog:   msgLog,
		logger:   logger,
	}
}

// Register attaches handler to action, replacing any previous one.
func (r *Router) Register(action string, handler HandlerFunc) {
	r.mu.Lock()
	r.handlers[action] = handler
	r.mu.Unlock()
}

// Actions lists the registered actions in sorted order.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// Handle registers a typed handler. The payload is decoded into Req before fn runs; a
// decode failure is reported like any other handler error.
func Handle[Req, Resp any](r *Router, action string, fn func(ctx context.Context, identity string, req Req) (Resp, error)) {
	r.Register(action, func(ctx context.Context, identity string, payload json.RawMessage) (interface{}, error) {
		req, err := Decode[Req](payload)
		if err != nil {
			return nil, err
		}
		return fn(ctx, identity, req)
	})
}

// Process handles one inbound frame and returns the reply to write back, if any.
// A non-nil error means the frame was dropped without a reply; it is informational
// and callers only log it.
func (r *Router) Process(ctx context.Context, identity string, raw []byte) ([]byte, error) {
	env, err := Parse(raw)
	if err != nil {
		var formatErr *FormatError
		if errors.As(err, &formatErr) {
			r.save(ctx, identity, DirectionIncoming, "", raw)
			r.logger.Warn("invalid ocpp call",
				zap.String("station_id", identity),
				zap.String("field", formatErr.Field),
				zap.String("reason", formatErr.Reason))
			reply, buildErr := BuildCallError(formatErr.RequestID, protocol.ErrorProtocolError, formatErr.Error(), nil)
			if buildErr != nil {
				return nil, buildErr
			}
			r.save(ctx, identity, DirectionOutgoing, "", reply)
			return reply, nil
		}
		return nil, err
	}

	switch env.Type {
	case protocol.MessageTypeCall:
		return r.dispatch(ctx, identity, env, raw)
	case protocol.MessageTypeCallResult:
		r.save(ctx, identity, DirectionIncoming, "", raw)
		if r.sink == nil || !r.sink.Resolve(env.RequestID, env.Payload) {
			return nil, fmt.Errorf("%w: %s", ErrUnsolicitedResponse, env.RequestID)
		}
		return nil, nil
	case protocol.MessageTypeCallError:
		r.save(ctx, identity, DirectionIncoming, "", raw)
		if r.sink == nil || !r.sink.ResolveError(env.RequestID, env.ErrorCode, env.ErrorDescription, env.ErrorDetails) {
			return nil, fmt.Errorf("%w: %s", ErrUnsolicitedResponse, env.RequestID)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unsupported message type %d", ErrMalformedEnvelope, int(env.Type))
	}
}

func (r *Router) dispatch(ctx context.Context, identity string, env Envelope, raw []byte) ([]byte, error) {
	r.save(ctx, identity, DirectionIncoming, env.Action, raw)

	r.mu.RLock()
	handler, ok := r.handlers[env.Action]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("no handler for ocpp action",
			zap.String("station_id", identity),
			zap.String("action", env.Action),
			zap.String("request_id", env.RequestID))
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, env.Action)
	}

	resp, err := invoke(ctx, handler, identity, env.Payload)
	var reply []byte
	if err != nil {
		reply, err = r.errorReply(identity, env, err)
	} else {
		reply, err = BuildCallResult(env.RequestID, resp)
		if err != nil {
			r.logger.Error("encode ocpp response failed", zap.String("action", env.Action), zap.Error(err))
			reply, err = BuildCallError(env.RequestID, protocol.ErrorInternalError, "response could not be encoded", nil)
		}
	}
	if err != nil {
		return nil, err
	}

	r.save(ctx, identity, DirectionOutgoing, env.Action, reply)
	return reply, nil
}

func (r *Router) errorReply(identity string, env Envelope, handlerErr error) ([]byte, error) {
	var explicit *ErrorReply
	if errors.As(handlerErr, &explicit) {
		return BuildCallError(env.RequestID, explicit.Code, explicit.Description, explicit.Details)
	}

	r.logger.Warn("ocpp handler failed",
		zap.String("station_id", identity),
		zap.String("action", env.Action),
		zap.String("request_id", env.RequestID),
		zap.Error(handlerErr))
	return BuildCallError(env.RequestID, protocol.ErrorFormationViolation, "handler failed to process "+env.Action,
		map[string]interface{}{"message": handlerErr.Error()})
}

func invoke(ctx context.Context, handler HandlerFunc, identity string, payload json.RawMessage) (resp interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			err = fmt.Errorf("ocpp: handler panic: %v", rec)
		}
	}()
	return handler(ctx, identity, payload)
}

func (r *Router) save(ctx context.Context, identity, direction, action string, payload []byte) {
	if r.msgLog == nil {
		return
	}
	_ = r.msgLog.Save(ctx, identity, direction, action, payload)
}
