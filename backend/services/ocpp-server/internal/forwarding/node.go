package forwarding

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/correlation"
	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
)

// Caller sends a CALL to identity and waits for its response.
type Caller interface {
	Call(ctx context.Context, identity, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error)
}

// Uplinks maintains the node's per-station connection to the central system.
type Uplinks interface {
	Ensure(ctx context.Context, identity string) error
}

// NodeConfig wires a Node. Uplinks may be nil when upstream connections are managed
// elsewhere.
type NodeConfig struct {
	// Downstream receives frames from stations.
	Downstream *ocpp.Router
	// Upstream receives frames from the central system.
	Upstream *ocpp.Router
	// ToCentral issues calls on upstream connections.
	ToCentral Caller
	// ToStation issues calls on station connections.
	ToStation   Caller
	Uplinks     Uplinks
	CallTimeout time.Duration
	Logger      *zap.Logger
}

// Node relays CALLs across the node: station-originated actions from the downstream
// router to the central system, central-originated actions from the upstream router to
// the station. Each relayed CALL passes its action's pipeline first.
type Node struct {
	cfg    NodeConfig
	logger *zap.Logger
}

// NewNode returns a node. Call Mount to register its handlers.
func NewNode(cfg NodeConfig) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{cfg: cfg, logger: logger.Named("node")}
}

// Mount registers a relay handler for every pipeline on the matching router.
func (n *Node) Mount(stationOriginated, centralOriginated []Processor) {
	for _, proc := range stationOriginated {
		n.cfg.Downstream.Register(proc.Action(), n.relay(proc, n.cfg.ToCentral, true))
	}
	for _, proc := range centralOriginated {
		n.cfg.Upstream.Register(proc.Action(), n.relay(proc, n.cfg.ToStation, false))
	}
}

func (n *Node) relay(proc Processor, target Caller, toCentral bool) ocpp.HandlerFunc {
	action := proc.Action()
	return func(ctx context.Context, identity string, payload json.RawMessage) (interface{}, error) {
		out := proc.ProcessRaw(ctx, identity, payload)
		if out.Result == Reject {
			if out.RejectPayload == nil {
				return nil, &ocpp.ErrorReply{Code: protocol.ErrorInternalError, Description: "reject response could not be encoded"}
			}
			n.logger.Debug("rejected by pipeline",
				zap.String("station_id", identity),
				zap.String("action", action),
				zap.String("reason", out.LogMessage))
			return out.RejectPayload, nil
		}

		if toCentral && n.cfg.Uplinks != nil {
			if err := n.cfg.Uplinks.Ensure(ctx, identity); err != nil {
				out.Sent(ctx, err)
				n.logger.Warn("uplink unavailable", zap.String("station_id", identity), zap.Error(err))
				return nil, &ocpp.ErrorReply{
					Code:        protocol.ErrorInternalError,
					Description: "central system unreachable",
					Details:     map[string]interface{}{"kind": correlation.KindTransmissionFailed.String()},
				}
			}
		}

		resp, err := target.Call(ctx, identity, action, out.OutboundPayload, n.cfg.CallTimeout)
		out.Sent(ctx, err)
		if err != nil {
			return nil, relayError(err)
		}
		return resp, nil
	}
}

// relayError maps a failed relay onto the CALLERROR sent back to the originator. A
// peer CALLERROR keeps its code; anything else becomes InternalError naming the kind.
func relayError(err error) *ocpp.ErrorReply {
	var callErr *correlation.CallError
	if !errors.As(err, &callErr) {
		return &ocpp.ErrorReply{Code: protocol.ErrorInternalError, Description: err.Error()}
	}
	if callErr.Kind == correlation.KindProtocolError {
		reply := &ocpp.ErrorReply{Code: callErr.Code, Description: callErr.Description}
		if len(callErr.Details) > 0 {
			var details map[string]interface{}
			if json.Unmarshal(callErr.Details, &details) == nil {
				reply.Details = details
			}
		}
		return reply
	}
	return &ocpp.ErrorReply{
		Code:        protocol.ErrorInternalError,
		Description: "relay failed",
		Details:     map[string]interface{}{"kind": callErr.Kind.String()},
	}
}
