// Package forwarding decides, message by message, whether a networking node relays,
// rewrites or rejects what crosses it, and relays accordingly.
package forwarding

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/events"
	"ocppgate/backend/services/ocpp-server/internal/ocpp"
)

type (
	// ReceivedHook observes a decoded request.
	ReceivedHook[Req any] func(ctx context.Context, identity string, req Req)
	// FilterFunc may vote on the request; nil abstains.
	FilterFunc[Req, Resp any] func(ctx context.Context, identity string, req Req) *Vote[Req, Resp]
	// FilteredHook observes the final decision.
	FilteredHook[Req, Resp any] func(ctx context.Context, identity string, d *Decision[Req, Resp])
	// SentHook observes the relay outcome of a forwarded request.
	SentHook[Req, Resp any] func(ctx context.Context, identity string, d *Decision[Req, Resp], err error)
)

// Pipeline runs one action's requests through decode, received hooks, filter vote,
// default policy, re-encode, filtered hooks and sent hooks, in that order. Hooks run
// in registration order; a panicking hook is logged and skipped.
type Pipeline[Req, Resp any] struct {
	action         string
	codec          ocpp.MessageCodec[Req]
	responseCodec  ocpp.MessageCodec[Resp]
	rejectResponse func(req Req, reason string) Resp
	defaultResult  Result
	deferSent      bool

	mu       sync.RWMutex
	received []ReceivedHook[Req]
	filters  []FilterFunc[Req, Resp]
	filtered []FilteredHook[Req, Resp]
	sent     []SentHook[Req, Resp]

	bus    *events.Bus
	logger *zap.Logger
}

// Options configure a pipeline. Zero values mean JSON codecs, Forward, eager sent hooks.
type Options[Req, Resp any] struct {
	Codec         ocpp.MessageCodec[Req]
	ResponseCodec ocpp.MessageCodec[Resp]
	DefaultResult Result
	// DeferSent postpones sent hooks until Decision.Sent is called by the relay.
	DeferSent bool
	Bus       *events.Bus
	Logger    *zap.Logger
}

// NewPipeline builds the pipeline for action. rejectResponse builds the substitute
// response when a request is rejected without an explicit one.
func NewPipeline[Req, Resp any](action string, rejectResponse func(req Req, reason string) Resp, opts Options[Req, Resp]) *Pipeline[Req, Resp] {
	p := &Pipeline[Req, Resp]{
		action:         action,
		codec:          opts.Codec,
		responseCodec:  opts.ResponseCodec,
		rejectResponse: rejectResponse,
		defaultResult:  opts.DefaultResult,
		deferSent:      opts.DeferSent,
		bus:            opts.Bus,
		logger:         opts.Logger,
	}
	if p.codec == nil {
		p.codec = ocpp.NewJSONCodec[Req]()
	}
	if p.responseCodec == nil {
		p.responseCodec = ocpp.NewJSONCodec[Resp]()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.With(zap.String("pipeline", action))
	return p
}

// Action returns the OCPP action this pipeline handles.
func (p *Pipeline[Req, Resp]) Action() string { return p.action }

// OnReceived appends a received hook.
func (p *Pipeline[Req, Resp]) OnReceived(h ReceivedHook[Req]) {
	p.mu.Lock()
	p.received = append(p.received, h)
	p.mu.Unlock()
}

// AddFilter appends a filter. Every filter runs; the first non-nil vote decides.
func (p *Pipeline[Req, Resp]) AddFilter(f FilterFunc[Req, Resp]) {
	p.mu.Lock()
	p.filters = append(p.filters, f)
	p.mu.Unlock()
}

// OnFiltered appends a filtered hook.
func (p *Pipeline[Req, Resp]) OnFiltered(h FilteredHook[Req, Resp]) {
	p.mu.Lock()
	p.filtered = append(p.filtered, h)
	p.mu.Unlock()
}

// OnSent appends a sent hook.
func (p *Pipeline[Req, Resp]) OnSent(h SentHook[Req, Resp]) {
	p.mu.Lock()
	p.sent = append(p.sent, h)
	p.mu.Unlock()
}

// Process decides what happens to raw, the JSON payload of a CALL from identity.
func (p *Pipeline[Req, Resp]) Process(ctx context.Context, identity string, raw json.RawMessage) *Decision[Req, Resp] {
	req, err := p.codec.TryParse(raw)
	if err != nil {
		d := p.rejected(req, err.Error())
		d.Err = err
		p.logger.Info("rejecting undecodable request", zap.String("station_id", identity), zap.Error(err))
		p.publish(events.ForwardFiltered, identity, d.Result, err)
		return d
	}

	p.mu.RLock()
	received := append([]ReceivedHook[Req](nil), p.received...)
	filters := append([]FilterFunc[Req, Resp](nil), p.filters...)
	filtered := append([]FilteredHook[Req, Resp](nil), p.filtered...)
	sent := append([]SentHook[Req, Resp](nil), p.sent...)
	p.mu.RUnlock()

	p.publish(events.ForwardReceived, identity, Forward, nil)
	for i, h := range received {
		if ctx.Err() != nil {
			break
		}
		p.guard("received", i, func() { h(ctx, identity, req) })
	}

	var vote *Vote[Req, Resp]
	for i, f := range filters {
		if ctx.Err() != nil {
			break
		}
		v := p.runFilter(ctx, identity, req, i, f)
		if vote == nil && v != nil {
			vote = v
		}
	}

	d := p.decide(req, vote)
	if err := ctx.Err(); err != nil {
		d = p.rejected(req, err.Error())
		d.Err = err
	}

	// filtered hooks must observe the decision that is actually relayed
	if d.Result != Reject {
		if d.RewrittenRequest != nil {
			out, err := p.codec.ToWireFormat(*d.RewrittenRequest)
			if err != nil {
				p.logger.Error("re-encode rewritten request failed", zap.String("station_id", identity), zap.Error(err))
				d = p.rejected(req, err.Error())
				d.Err = err
			} else {
				d.OutboundPayload = out
			}
		} else {
			d.OutboundPayload = raw
		}
	}

	for i, h := range filtered {
		if ctx.Err() != nil {
			break
		}
		p.guard("filtered", i, func() { h(ctx, identity, d) })
	}
	p.publish(events.ForwardFiltered, identity, d.Result, d.Err)

	if d.Result == Reject {
		return d
	}

	fire := func(ctx context.Context, sendErr error) {
		for i, h := range sent {
			p.guard("sent", i, func() { h(ctx, identity, d, sendErr) })
		}
		p.publish(events.ForwardSent, identity, d.Result, sendErr)
	}
	if p.deferSent {
		d.sent = fire
	} else {
		d.Sent(ctx, nil)
		fire(ctx, nil)
	}
	return d
}

// ProcessRaw implements Processor.
func (p *Pipeline[Req, Resp]) ProcessRaw(ctx context.Context, identity string, raw json.RawMessage) Outcome {
	d := p.Process(ctx, identity, raw)
	return Outcome{
		Result:          d.Result,
		OutboundPayload: d.OutboundPayload,
		RejectPayload:   d.RejectPayload,
		LogMessage:      d.LogMessage,
		Err:             d.Err,
		sent:            d.Sent,
	}
}

func (p *Pipeline[Req, Resp]) runFilter(ctx context.Context, identity string, req Req, idx int, f FilterFunc[Req, Resp]) (vote *Vote[Req, Resp]) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("filter panicked, voting reject",
				zap.String("station_id", identity),
				zap.Int("filter", idx),
				zap.Any("panic", rec))
			vote = &Vote[Req, Resp]{Result: Reject, LogMessage: fmt.Sprintf("filter %d failed", idx)}
		}
	}()
	return f(ctx, identity, req)
}

func (p *Pipeline[Req, Resp]) decide(req Req, vote *Vote[Req, Resp]) *Decision[Req, Resp] {
	if vote == nil {
		if p.defaultResult == Reject {
			return p.rejected(req, FilteredLogMessage)
		}
		return &Decision[Req, Resp]{Request: req, Result: Forward}
	}

	d := &Decision[Req, Resp]{
		Request:          req,
		Result:           vote.Result,
		RejectResponse:   vote.RejectResponse,
		RewrittenRequest: vote.RewrittenRequest,
		LogMessage:       vote.LogMessage,
	}
	switch d.Result {
	case Reject:
		if d.LogMessage == "" {
			d.LogMessage = FilteredLogMessage
		}
		if d.RejectResponse == nil {
			resp := p.rejectResponse(req, d.LogMessage)
			d.RejectResponse = &resp
		}
		p.encodeReject(d)
	case Replace:
		if d.RewrittenRequest == nil {
			d.Result = Forward
		}
	}
	return d
}

// rejected builds a Reject decision with a synthesized, eagerly encoded response.
func (p *Pipeline[Req, Resp]) rejected(req Req, reason string) *Decision[Req, Resp] {
	resp := p.rejectResponse(req, reason)
	d := &Decision[Req, Resp]{
		Request:        req,
		Result:         Reject,
		RejectResponse: &resp,
		LogMessage:     reason,
	}
	p.encodeReject(d)
	return d
}

func (p *Pipeline[Req, Resp]) encodeReject(d *Decision[Req, Resp]) {
	payload, err := p.responseCodec.ToWireFormat(*d.RejectResponse)
	if err != nil {
		p.logger.Error("encode reject response failed", zap.Error(err))
		d.Err = err
		return
	}
	d.RejectPayload = payload
}

func (p *Pipeline[Req, Resp]) guard(stage string, idx int, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("pipeline hook panicked",
				zap.String("stage", stage),
				zap.Int("hook", idx),
				zap.Any("panic", rec))
		}
	}()
	fn()
}

func (p *Pipeline[Req, Resp]) publish(t events.Type, identity string, result Result, err error) {
	p.bus.Publish(events.Event{Type: t, Identity: identity, Action: p.action, Result: result.String(), Err: err})
}
