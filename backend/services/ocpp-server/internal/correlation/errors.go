package correlation

import (
	"encoding/json"
	"errors"
	"fmt"

	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
)

// Kind classifies why a Call failed.
type Kind int

const (
	KindUnknownClient Kind = iota + 1
	KindTransmissionFailed
	KindTimeout
	KindCancelled
	KindProtocolError
	KindInternalError
)

func (k Kind) String() string {
	switch k {
	case KindUnknownClient:
		return "UnknownClient"
	case KindTransmissionFailed:
		return "TransmissionFailed"
	case KindTimeout:
		return "Timeout"
	case KindCancelled:
		return "Cancelled"
	case KindProtocolError:
		return "ProtocolError"
	case KindInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

var (
	ErrUnknownClient      = errors.New("correlation: no connection for station")
	ErrTransmissionFailed = errors.New("correlation: transmission failed")
	ErrTimeout            = errors.New("correlation: timed out waiting for response")
	ErrCancelled          = errors.New("correlation: call cancelled")
	ErrPeerReported       = errors.New("correlation: peer returned CALLERROR")
	ErrInternal           = errors.New("correlation: internal error")
	ErrEngineClosed       = errors.New("correlation: engine closed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnknownClient:
		return ErrUnknownClient
	case KindTransmissionFailed:
		return ErrTransmissionFailed
	case KindTimeout:
		return ErrTimeout
	case KindCancelled:
		return ErrCancelled
	case KindProtocolError:
		return ErrPeerReported
	default:
		return ErrInternal
	}
}

// CallError is the failure returned by Engine.Call. Code, Description and Details are
// only set for KindProtocolError and carry what the peer sent.
type CallError struct {
	Kind        Kind
	Identity    string
	Action      string
	RequestID   string
	Code        protocol.ErrorCode
	Description string
	Details     json.RawMessage
	Err         error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("correlation: %s %s (%s): %s", e.Action, e.Identity, e.RequestID, e.Kind)
	if e.Kind == KindProtocolError {
		msg += fmt.Sprintf(": %s %q", e.Code, e.Description)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the kind sentinel and the underlying cause to errors.Is.
func (e *CallError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}
