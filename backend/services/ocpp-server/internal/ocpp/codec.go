package ocpp

import (
	"encoding/json"
	"fmt"
)

// MessageCodec converts between a typed payload and the JSON object placed in a frame.
type MessageCodec[T any] interface {
	TryParse(raw json.RawMessage) (T, error)
	ToWireFormat(msg T) (json.RawMessage, error)
}

// JSONCodec is the encoding/json MessageCodec. Unknown fields are ignored.
type JSONCodec[T any] struct{}

// NewJSONCodec returns a codec for T.
func NewJSONCodec[T any]() JSONCodec[T] {
	return JSONCodec[T]{}
}

func (JSONCodec[T]) TryParse(raw json.RawMessage) (T, error) {
	var target T
	if !isObject(raw) {
		return target, fmt.Errorf("ocpp: payload is not a JSON object")
	}
	if err := json.Unmarshal(raw, &target); err != nil {
		var zero T
		return zero, fmt.Errorf("ocpp: decode %T: %w", zero, err)
	}
	return target, nil
}

func (JSONCodec[T]) ToWireFormat(msg T) (json.RawMessage, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("ocpp: encode %T: %w", msg, err)
	}
	return body, nil
}

// Decode convenience helper for handlers.
func Decode[T any](payload json.RawMessage) (T, error) {
	return JSONCodec[T]{}.TryParse(payload)
}
