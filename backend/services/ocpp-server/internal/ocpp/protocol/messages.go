package protocol

import "time"

// BootNotificationRequest is sent by a station after (re)boot.
type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	Iccid                   string `json:"iccid,omitempty"`
	Imsi                    string `json:"imsi,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
}

// BootNotificationResponse tells the station whether it is accepted and how often to heartbeat.
type BootNotificationResponse struct {
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
	Status      string    `json:"status"`
}

// HeartbeatRequest has no fields.
type HeartbeatRequest struct{}

// HeartbeatResponse returns server time.
type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

// StatusNotificationRequest reports a connector status change.
type StatusNotificationRequest struct {
	ConnectorID     int        `json:"connectorId"`
	ErrorCode       string     `json:"errorCode"`
	Status          string     `json:"status"`
	Info            string     `json:"info,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	VendorID        string     `json:"vendorId,omitempty"`
	VendorErrorCode string     `json:"vendorErrorCode,omitempty"`
}

// StatusNotificationResponse is empty (ack).
type StatusNotificationResponse struct{}

// SampledValue is a single measurand reading.
type SampledValue struct {
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// MeterValue groups readings taken at the same instant.
type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

// MeterValuesRequest carries periodic or clock-aligned meter samples.
type MeterValuesRequest struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID *int         `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue"`
}

// MeterValuesResponse ack.
type MeterValuesResponse struct{}

// FirmwareStatusNotificationRequest reports firmware update progress.
type FirmwareStatusNotificationRequest struct {
	Status string `json:"status"`
}

// FirmwareStatusNotificationResponse ack.
type FirmwareStatusNotificationResponse struct{}

// PublishFirmwareStatusNotificationRequest is sent by a local controller publishing firmware.
type PublishFirmwareStatusNotificationRequest struct {
	Status    string   `json:"status"`
	Location  []string `json:"location,omitempty"`
	RequestID *int     `json:"requestId,omitempty"`
}

// PublishFirmwareStatusNotificationResponse ack.
type PublishFirmwareStatusNotificationResponse struct{}

// ResetRequest asks a station to reboot ("Hard" or "Soft").
type ResetRequest struct {
	Type string `json:"type"`
}

// ResetResponse.
type ResetResponse struct {
	Status string `json:"status"`
}

// ChangeAvailabilityRequest switches a connector (0 = whole station) between Operative and Inoperative.
type ChangeAvailabilityRequest struct {
	ConnectorID int    `json:"connectorId"`
	Type        string `json:"type"`
}

// ChangeAvailabilityResponse.
type ChangeAvailabilityResponse struct {
	Status string `json:"status"`
}
