package ocpp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
)

var emptyObject = json.RawMessage(`{}`)

// Envelope is one decoded OCPP-J frame. Which fields are meaningful depends on Type.
type Envelope struct {
	Type             protocol.MessageType
	RequestID        string
	Action           string
	Payload          json.RawMessage
	ErrorCode        protocol.ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// NewCall builds a CALL envelope.
func NewCall(requestID, action string, payload json.RawMessage) Envelope {
	return Envelope{Type: protocol.MessageTypeCall, RequestID: requestID, Action: action, Payload: payload}
}

// NewCallResult builds a CALLRESULT envelope.
func NewCallResult(requestID string, payload json.RawMessage) Envelope {
	return Envelope{Type: protocol.MessageTypeCallResult, RequestID: requestID, Payload: payload}
}

// NewCallError builds a CALLERROR envelope.
func NewCallError(requestID string, code protocol.ErrorCode, description string, details json.RawMessage) Envelope {
	return Envelope{
		Type:             protocol.MessageTypeCallError,
		RequestID:        requestID,
		ErrorCode:        code,
		ErrorDescription: description,
		ErrorDetails:     details,
	}
}

// MarshalJSON renders the array wire form. Empty payloads and details become {}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case protocol.MessageTypeCall:
		return json.Marshal([]interface{}{e.Type, e.RequestID, e.Action, objectOrEmpty(e.Payload)})
	case protocol.MessageTypeCallResult:
		return json.Marshal([]interface{}{e.Type, e.RequestID, objectOrEmpty(e.Payload)})
	case protocol.MessageTypeCallError:
		return json.Marshal([]interface{}{e.Type, e.RequestID, e.ErrorCode, e.ErrorDescription, objectOrEmpty(e.ErrorDetails)})
	default:
		return nil, fmt.Errorf("ocpp: cannot encode message type %d", int(e.Type))
	}
}

// Encode is json.Marshal for an envelope.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// BuildCallResult encodes payload and wraps it in a CALLRESULT frame.
func BuildCallResult(requestID string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ocpp: encode result payload: %w", err)
	}
	return NewCallResult(requestID, body).Encode()
}

// BuildCallError encodes a CALLERROR frame. A nil details map is sent as {}.
func BuildCallError(requestID string, code protocol.ErrorCode, description string, details map[string]interface{}) ([]byte, error) {
	var raw json.RawMessage
	if len(details) > 0 {
		body, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("ocpp: encode error details: %w", err)
		}
		raw = body
	}
	return NewCallError(requestID, code, description, raw).Encode()
}

func objectOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return emptyObject
	}
	return raw
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
