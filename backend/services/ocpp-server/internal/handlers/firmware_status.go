package handlers

import (
	"context"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocppgate/backend/services/ocpp-server/internal/service"
)

// NewFirmwareStatusHandler records firmware update progress.
func NewFirmwareStatusHandler(state *service.StationState, logger *zap.Logger) func(context.Context, string, protocol.FirmwareStatusNotificationRequest) (protocol.FirmwareStatusNotificationResponse, error) {
	return func(_ context.Context, stationID string, req protocol.FirmwareStatusNotificationRequest) (protocol.FirmwareStatusNotificationResponse, error) {
		if req.Status == "" {
			return protocol.FirmwareStatusNotificationResponse{}, &ocpp.ErrorReply{
				Code:        protocol.ErrorOccurenceConstraintViolation,
				Description: "status is required",
			}
		}
		state.UpdateFirmwareStatus(stationID, req.Status)
		logger.Info("firmware status", zap.String("station_id", stationID), zap.String("status", req.Status))
		return protocol.FirmwareStatusNotificationResponse{}, nil
	}
}

// NewPublishFirmwareStatusHandler acknowledges publish progress from a local controller.
func NewPublishFirmwareStatusHandler(logger *zap.Logger) func(context.Context, string, protocol.PublishFirmwareStatusNotificationRequest) (protocol.PublishFirmwareStatusNotificationResponse, error) {
	return func(_ context.Context, stationID string, req protocol.PublishFirmwareStatusNotificationRequest) (protocol.PublishFirmwareStatusNotificationResponse, error) {
		logger.Info("publish firmware status",
			zap.String("station_id", stationID),
			zap.String("status", req.Status),
			zap.Strings("location", req.Location))
		return protocol.PublishFirmwareStatusNotificationResponse{}, nil
	}
}
