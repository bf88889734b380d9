package ocpp

import (
	"errors"
	"fmt"

	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
)

var (
	// ErrMalformedEnvelope marks frames that are not an OCPP-J array at all.
	ErrMalformedEnvelope = errors.New("ocpp: malformed envelope")
	// ErrMalformedResponse marks CALLRESULT/CALLERROR frames with a wrong shape.
	ErrMalformedResponse = errors.New("ocpp: malformed response frame")
	// ErrUnknownAction is returned by Router.Process when no handler is registered.
	ErrUnknownAction = errors.New("ocpp: unknown action")
	// ErrUnsolicitedResponse is returned when a response frame matches no pending request.
	ErrUnsolicitedResponse = errors.New("ocpp: response matches no pending request")
)

// FormatError describes a CALL frame whose requestId, action or payload is missing or
// has the wrong type. Such frames are answered with a ProtocolError CALLERROR.
type FormatError struct {
	RequestID string
	Field     string
	Reason    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("ocpp: invalid %s: %s", e.Field, e.Reason)
}

// ErrorReply lets a handler pick the CALLERROR code sent back to the peer.
type ErrorReply struct {
	Code        protocol.ErrorCode
	Description string
	Details     map[string]interface{}
}

func (e *ErrorReply) Error() string {
	return fmt.Sprintf("ocpp: %s: %s", e.Code, e.Description)
}
