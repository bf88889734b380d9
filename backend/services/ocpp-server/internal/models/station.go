package models

import "time"

// Station is the persisted record of a charging station.
type Station struct {
	ID              string    `db:"id" json:"id"`
	Vendor          string    `db:"vendor" json:"vendor"`
	Model           string    `db:"model" json:"model"`
	SerialNumber    string    `db:"serial_number" json:"serialNumber,omitempty"`
	FirmwareVersion string    `db:"firmware_version" json:"firmwareVersion"`
	LastHeartbeat   time.Time `db:"last_heartbeat" json:"lastHeartbeat"`
	Status          string    `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// ConnectedStation describes a registered connection for the admin API.
type ConnectedStation struct {
	Identity       string            `json:"identity"`
	ConnectionID   string            `json:"connectionId"`
	RemoteAddr     string            `json:"remoteAddr"`
	Subprotocol    string            `json:"subprotocol,omitempty"`
	RegisteredAt   time.Time         `json:"registeredAt"`
	Status         string            `json:"status,omitempty"`
	FirmwareStatus string            `json:"firmwareStatus,omitempty"`
	LastHeartbeat  *time.Time        `json:"lastHeartbeat,omitempty"`
	Connectors     map[int]string    `json:"connectors,omitempty"`
	Tags           map[string]string `json:"-"`
}
