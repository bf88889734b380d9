package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocppgate/backend/services/ocpp-server/internal/service"
)

const measurandEnergyImport = "Energy.Active.Import.Register"

// NewMeterValuesHandler keeps the latest energy register reading per station.
func NewMeterValuesHandler(state *service.StationState, logger *zap.Logger) func(context.Context, string, protocol.MeterValuesRequest) (protocol.MeterValuesResponse, error) {
	return func(ctx context.Context, stationID string, req protocol.MeterValuesRequest) (protocol.MeterValuesResponse, error) {
		if len(req.MeterValue) == 0 {
			return protocol.MeterValuesResponse{}, &ocpp.ErrorReply{
				Code:        protocol.ErrorOccurenceConstraintViolation,
				Description: "meterValue must contain at least one element",
			}
		}

		for _, mv := range req.MeterValue {
			ts := mv.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			for _, sv := range mv.SampledValue {
				// an empty measurand defaults to the energy import register
				if sv.Measurand != "" && sv.Measurand != measurandEnergyImport {
					continue
				}
				unit := sv.Unit
				if unit == "" {
					unit = "Wh"
				}
				state.RecordReading(stationID, service.EnergyReading{
					ConnectorID: req.ConnectorID,
					Value:       sv.Value,
					Unit:        unit,
					Timestamp:   ts,
				})
			}
		}

		logger.Debug("meter values received",
			zap.String("station_id", stationID),
			zap.Int("connector_id", req.ConnectorID),
			zap.Int("samples", len(req.MeterValue)))
		return protocol.MeterValuesResponse{}, nil
	}
}
