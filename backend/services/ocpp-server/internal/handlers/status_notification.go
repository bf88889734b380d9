package handlers

import (
	"context"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocppgate/backend/services/ocpp-server/internal/service"
)

// NewStatusNotificationHandler updates station/connector status.
func NewStatusNotificationHandler(repo StationStore, state *service.StationState, logger *zap.Logger) func(context.Context, string, protocol.StatusNotificationRequest) (protocol.StatusNotificationResponse, error) {
	return func(ctx context.Context, stationID string, req protocol.StatusNotificationRequest) (protocol.StatusNotificationResponse, error) {
		if req.ConnectorID < 0 {
			return protocol.StatusNotificationResponse{}, &ocpp.ErrorReply{
				Code:        protocol.ErrorPropertyConstraintViolation,
				Description: "connectorId must not be negative",
			}
		}
		if req.Status == "" {
			req.Status = protocol.ConnectorAvailable
		}

		// connector 0 addresses the station as a whole
		if req.ConnectorID == 0 {
			state.UpdateStation(stationID, req.Status)
			if repo != nil {
				if err := repo.UpdateStatus(ctx, stationID, req.Status); err != nil {
					logger.Warn("failed to update station status", zap.String("station_id", stationID), zap.Error(err))
				}
			}
		} else {
			state.UpdateConnector(stationID, req.ConnectorID, req.Status, req.ErrorCode)
		}

		if req.Status == protocol.ConnectorFaulted {
			logger.Warn("connector faulted",
				zap.String("station_id", stationID),
				zap.Int("connector_id", req.ConnectorID),
				zap.String("error_code", req.ErrorCode),
				zap.String("info", req.Info))
		}

		return protocol.StatusNotificationResponse{}, nil
	}
}
