package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/models"
	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocppgate/backend/services/ocpp-server/internal/service"
)

const defaultHeartbeatInterval = 30

// NewBootNotificationHandler accepts the station and records its identification.
func NewBootNotificationHandler(repo StationStore, state *service.StationState, interval int, logger *zap.Logger) func(context.Context, string, protocol.BootNotificationRequest) (protocol.BootNotificationResponse, error) {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return func(ctx context.Context, stationID string, req protocol.BootNotificationRequest) (protocol.BootNotificationResponse, error) {
		if req.ChargePointVendor == "" || req.ChargePointModel == "" {
			return protocol.BootNotificationResponse{}, &ocpp.ErrorReply{
				Code:        protocol.ErrorOccurenceConstraintViolation,
				Description: "chargePointVendor and chargePointModel are required",
			}
		}

		serial := req.ChargePointSerialNumber
		if serial == "" {
			serial = req.ChargeBoxSerialNumber
		}

		if repo != nil {
			station := &models.Station{
				ID:              stationID,
				Vendor:          req.ChargePointVendor,
				Model:           req.ChargePointModel,
				SerialNumber:    serial,
				FirmwareVersion: req.FirmwareVersion,
				Status:          protocol.ConnectorAvailable,
				LastHeartbeat:   time.Now().UTC(),
			}
			if err := repo.Upsert(ctx, station); err != nil {
				logger.Error("failed to upsert station", zap.String("station_id", stationID), zap.Error(err))
				return protocol.BootNotificationResponse{}, &ocpp.ErrorReply{
					Code:        protocol.ErrorInternalError,
					Description: "station could not be stored",
				}
			}
		}

		state.Boot(stationID, req.ChargePointVendor, req.ChargePointModel, req.FirmwareVersion)
		state.UpdateStation(stationID, protocol.ConnectorAvailable)

		logger.Info("station booted",
			zap.String("station_id", stationID),
			zap.String("vendor", req.ChargePointVendor),
			zap.String("model", req.ChargePointModel))

		return protocol.BootNotificationResponse{
			CurrentTime: time.Now().UTC(),
			Interval:    interval,
			Status:      protocol.RegistrationAccepted,
		}, nil
	}
}
