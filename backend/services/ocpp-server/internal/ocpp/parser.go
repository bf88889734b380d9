package ocpp

import (
	"encoding/json"
	"fmt"

	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
)

// Parse decodes a raw frame into an Envelope.
//
// Errors:
//   - ErrMalformedEnvelope (wrapped): not a JSON array, unknown discriminant or wrong arity.
//   - *FormatError: a CALL with a bad requestId, action or payload.
//   - ErrMalformedResponse (wrapped): a CALLRESULT/CALLERROR with a bad field.
func Parse(data []byte) (Envelope, error) {
	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(array) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty array", ErrMalformedEnvelope)
	}

	var msgType int
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return Envelope{}, fmt.Errorf("%w: message type: %v", ErrMalformedEnvelope, err)
	}

	switch protocol.MessageType(msgType) {
	case protocol.MessageTypeCall:
		if len(array) != 4 {
			return Envelope{}, fmt.Errorf("%w: CALL has %d elements", ErrMalformedEnvelope, len(array))
		}
		return parseCall(array)
	case protocol.MessageTypeCallResult:
		if len(array) != 3 {
			return Envelope{}, fmt.Errorf("%w: CALLRESULT has %d elements", ErrMalformedEnvelope, len(array))
		}
		return parseCallResult(array)
	case protocol.MessageTypeCallError:
		if len(array) != 5 {
			return Envelope{}, fmt.Errorf("%w: CALLERROR has %d elements", ErrMalformedEnvelope, len(array))
		}
		return parseCallError(array)
	default:
		return Envelope{}, fmt.Errorf("%w: unsupported message type %d", ErrMalformedEnvelope, msgType)
	}
}

func parseCall(array []json.RawMessage) (Envelope, error) {
	env := Envelope{Type: protocol.MessageTypeCall}

	if err := json.Unmarshal(array[1], &env.RequestID); err != nil {
		return Envelope{}, &FormatError{Field: "requestId", Reason: "must be a string"}
	}
	if env.RequestID == "" {
		return Envelope{}, &FormatError{Field: "requestId", Reason: "must not be empty"}
	}
	if err := json.Unmarshal(array[2], &env.Action); err != nil {
		return Envelope{}, &FormatError{RequestID: env.RequestID, Field: "action", Reason: "must be a string"}
	}
	if env.Action == "" {
		return Envelope{}, &FormatError{RequestID: env.RequestID, Field: "action", Reason: "must not be empty"}
	}
	if !isObject(array[3]) {
		return Envelope{}, &FormatError{RequestID: env.RequestID, Field: "payload", Reason: "must be a JSON object"}
	}
	env.Payload = array[3]
	return env, nil
}

func parseCallResult(array []json.RawMessage) (Envelope, error) {
	env := Envelope{Type: protocol.MessageTypeCallResult}
	if err := json.Unmarshal(array[1], &env.RequestID); err != nil || env.RequestID == "" {
		return Envelope{}, fmt.Errorf("%w: requestId", ErrMalformedResponse)
	}
	if !isObject(array[2]) {
		return Envelope{}, fmt.Errorf("%w: payload is not an object", ErrMalformedResponse)
	}
	env.Payload = array[2]
	return env, nil
}

func parseCallError(array []json.RawMessage) (Envelope, error) {
	env := Envelope{Type: protocol.MessageTypeCallError}
	if err := json.Unmarshal(array[1], &env.RequestID); err != nil || env.RequestID == "" {
		return Envelope{}, fmt.Errorf("%w: requestId", ErrMalformedResponse)
	}
	var code string
	if err := json.Unmarshal(array[2], &code); err != nil {
		return Envelope{}, fmt.Errorf("%w: errorCode is not a string", ErrMalformedResponse)
	}
	env.ErrorCode = protocol.ErrorCode(code)
	if err := json.Unmarshal(array[3], &env.ErrorDescription); err != nil {
		return Envelope{}, fmt.Errorf("%w: errorDescription is not a string", ErrMalformedResponse)
	}
	if !isObject(array[4]) {
		return Envelope{}, fmt.Errorf("%w: errorDetails is not an object", ErrMalformedResponse)
	}
	env.ErrorDetails = array[4]
	return env, nil
}
