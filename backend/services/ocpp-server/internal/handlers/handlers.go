package handlers

import (
	"context"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/models"
	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocppgate/backend/services/ocpp-server/internal/service"
)

// StationStore persists station records. It is optional; handlers skip persistence when nil.
type StationStore interface {
	Upsert(ctx context.Context, station *models.Station) error
	UpdateStatus(ctx context.Context, stationID, status string) error
	Touch(ctx context.Context, stationID string) error
}

// Deps bundles what the local handlers need.
type Deps struct {
	Stations          StationStore
	State             *service.StationState
	HeartbeatInterval int
	Logger            *zap.Logger
}

// Register installs the central system handlers on r.
func Register(r *ocpp.Router, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.State == nil {
		deps.State = service.NewStationState()
	}
	logger := deps.Logger.Named("handlers")

	ocpp.Handle(r, protocol.ActionBootNotification, NewBootNotificationHandler(deps.Stations, deps.State, deps.HeartbeatInterval, logger))
	ocpp.Handle(r, protocol.ActionHeartbeat, NewHeartbeatHandler(deps.Stations, deps.State, logger))
	ocpp.Handle(r, protocol.ActionStatusNotification, NewStatusNotificationHandler(deps.Stations, deps.State, logger))
	ocpp.Handle(r, protocol.ActionMeterValues, NewMeterValuesHandler(deps.State, logger))
	ocpp.Handle(r, protocol.ActionFirmwareStatusNotification, NewFirmwareStatusHandler(deps.State, logger))
	ocpp.Handle(r, protocol.ActionPublishFirmwareStatusNotification, NewPublishFirmwareStatusHandler(logger))
}
