package protocol

// MessageType discriminates the three OCPP-J frame shapes.
type MessageType int

const (
	MessageTypeCall       MessageType = 2
	MessageTypeCallResult MessageType = 3
	MessageTypeCallError  MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeCall:
		return "CALL"
	case MessageTypeCallResult:
		return "CALLRESULT"
	case MessageTypeCallError:
		return "CALLERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode is the code carried by a CALLERROR frame.
type ErrorCode string

const (
	ErrorNotImplemented               ErrorCode = "NotImplemented"
	ErrorNotSupported                 ErrorCode = "NotSupported"
	ErrorInternalError                ErrorCode = "InternalError"
	ErrorProtocolError                ErrorCode = "ProtocolError"
	ErrorSecurityError                ErrorCode = "SecurityError"
	ErrorFormationViolation           ErrorCode = "FormationViolation"
	ErrorPropertyConstraintViolation  ErrorCode = "PropertyConstraintViolation"
	ErrorOccurenceConstraintViolation ErrorCode = "OccurenceConstraintViolation"
	ErrorTypeConstraintViolation      ErrorCode = "TypeConstraintViolation"
	ErrorGenericError                 ErrorCode = "GenericError"
	ErrorTimeout                      ErrorCode = "Timeout"
)

// Valid reports whether c is one of the codes defined by OCPP-J.
func (c ErrorCode) Valid() bool {
	switch c {
	case ErrorNotImplemented, ErrorNotSupported, ErrorInternalError, ErrorProtocolError,
		ErrorSecurityError, ErrorFormationViolation, ErrorPropertyConstraintViolation,
		ErrorOccurenceConstraintViolation, ErrorTypeConstraintViolation, ErrorGenericError,
		ErrorTimeout:
		return true
	}
	return false
}

// WebSocket subprotocol tokens.
const (
	SubprotocolOCPP16  = "ocpp1.6"
	SubprotocolOCPP201 = "ocpp2.0.1"
)

// Actions with typed payloads in this package.
const (
	ActionBootNotification                  = "BootNotification"
	ActionHeartbeat                         = "Heartbeat"
	ActionStatusNotification                = "StatusNotification"
	ActionMeterValues                       = "MeterValues"
	ActionFirmwareStatusNotification        = "FirmwareStatusNotification"
	ActionPublishFirmwareStatusNotification = "PublishFirmwareStatusNotification"
	ActionReset                             = "Reset"
	ActionChangeAvailability                = "ChangeAvailability"
)

// Registration status values.
const (
	RegistrationAccepted = "Accepted"
	RegistrationPending  = "Pending"
	RegistrationRejected = "Rejected"
)

// Generic acceptance values used by Reset and ChangeAvailability responses.
const (
	StatusAccepted  = "Accepted"
	StatusRejected  = "Rejected"
	StatusScheduled = "Scheduled"
)

// StatusNotification status values (subset).
const (
	ConnectorAvailable   = "Available"
	ConnectorUnavailable = "Unavailable"
	ConnectorCharging    = "Charging"
	ConnectorFinishing   = "Finishing"
	ConnectorPreparing   = "Preparing"
	ConnectorFaulted     = "Faulted"
	ConnectorReserved    = "Reserved"
)
