package forwarding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Result is the outcome of a forwarding decision.
type Result int

const (
	// Forward relays the request to the other side.
	Forward Result = iota
	// Reject answers the originator with a substitute response instead of relaying.
	Reject
	// Replace relays a rewritten request.
	Replace
)

// FilteredLogMessage is the reason carried by synthesized reject responses.
const FilteredLogMessage = "Message was filtered by the networking node"

func (r Result) String() string {
	switch r {
	case Forward:
		return "FORWARD"
	case Reject:
		return "REJECT"
	case Replace:
		return "REPLACE"
	default:
		return "UNKNOWN"
	}
}

// ParseResult accepts FORWARD, REJECT or REPLACE in any case.
func ParseResult(s string) (Result, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FORWARD":
		return Forward, nil
	case "REJECT":
		return Reject, nil
	case "REPLACE":
		return Replace, nil
	default:
		return Forward, fmt.Errorf("forwarding: unknown result %q", s)
	}
}

// Vote is what a filter returns to influence the decision. A nil vote abstains.
type Vote[Req, Resp any] struct {
	Result           Result
	RejectResponse   *Resp
	RewrittenRequest *Req
	LogMessage       string
}

// Decision is the final outcome of Pipeline.Process for one request.
type Decision[Req, Resp any] struct {
	Request          Req
	Result           Result
	RejectResponse   *Resp
	RewrittenRequest *Req
	// OutboundPayload is set for Forward and Replace.
	OutboundPayload json.RawMessage
	// RejectPayload is the encoded RejectResponse, set for Reject.
	RejectPayload json.RawMessage
	LogMessage    string
	Err           error

	sentOnce sync.Once
	sent     func(ctx context.Context, err error)
}

// Sent reports the outcome of relaying the request. Deferred Sent hooks run on the
// first call; later calls and calls on eager pipelines do nothing.
func (d *Decision[Req, Resp]) Sent(ctx context.Context, err error) {
	d.sentOnce.Do(func() {
		if d.sent != nil {
			d.sent(ctx, err)
		}
	})
}

// Outcome is the type-erased view of a Decision used by the node.
type Outcome struct {
	Result          Result
	OutboundPayload json.RawMessage
	RejectPayload   json.RawMessage
	LogMessage      string
	Err             error

	sent func(ctx context.Context, err error)
}

// Sent forwards to Decision.Sent.
func (o Outcome) Sent(ctx context.Context, err error) {
	if o.sent != nil {
		o.sent(ctx, err)
	}
}

// Processor is a pipeline with its type parameters erased.
type Processor interface {
	Action() string
	ProcessRaw(ctx context.Context, identity string, raw json.RawMessage) Outcome
}
