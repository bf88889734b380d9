package handlers

import (
	"context"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocppgate/backend/services/ocpp-server/internal/service"
)

// NewHeartbeatHandler returns ack with current time.
func NewHeartbeatHandler(repo StationStore, state *service.StationState, logger *zap.Logger) func(context.Context, string, protocol.HeartbeatRequest) (protocol.HeartbeatResponse, error) {
	return func(ctx context.Context, stationID string, _ protocol.HeartbeatRequest) (protocol.HeartbeatResponse, error) {
		now := state.Heartbeat(stationID)
		if repo != nil {
			if err := repo.Touch(ctx, stationID); err != nil {
				logger.Warn("failed to store heartbeat", zap.String("station_id", stationID), zap.Error(err))
			}
		}
		return protocol.HeartbeatResponse{CurrentTime: now}, nil
	}
}
