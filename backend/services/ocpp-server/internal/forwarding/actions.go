package forwarding

import (
	"time"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/events"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
)

// rejectedBootInterval is the retry interval handed to a station whose boot was filtered.
const rejectedBootInterval = 300

// Pipelines holds the typed pipeline of every forwarded action so callers can attach
// hooks and filters with full type information.
type Pipelines struct {
	BootNotification                  *Pipeline[protocol.BootNotificationRequest, protocol.BootNotificationResponse]
	Heartbeat                         *Pipeline[protocol.HeartbeatRequest, protocol.HeartbeatResponse]
	StatusNotification                *Pipeline[protocol.StatusNotificationRequest, protocol.StatusNotificationResponse]
	MeterValues                       *Pipeline[protocol.MeterValuesRequest, protocol.MeterValuesResponse]
	FirmwareStatusNotification        *Pipeline[protocol.FirmwareStatusNotificationRequest, protocol.FirmwareStatusNotificationResponse]
	PublishFirmwareStatusNotification *Pipeline[protocol.PublishFirmwareStatusNotificationRequest, protocol.PublishFirmwareStatusNotificationResponse]

	Reset              *Pipeline[protocol.ResetRequest, protocol.ResetResponse]
	ChangeAvailability *Pipeline[protocol.ChangeAvailabilityRequest, protocol.ChangeAvailabilityResponse]
}

// NewPipelines instantiates every pipeline with defaultResult as the policy applied
// when no filter votes.
func NewPipelines(defaultResult Result, bus *events.Bus, logger *zap.Logger) *Pipelines {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("forwarding")

	return &Pipelines{
		BootNotification: NewPipeline(protocol.ActionBootNotification,
			func(protocol.BootNotificationRequest, string) protocol.BootNotificationResponse {
				return protocol.BootNotificationResponse{
					CurrentTime: time.Now().UTC(),
					Interval:    rejectedBootInterval,
					Status:      protocol.RegistrationRejected,
				}
			},
			Options[protocol.BootNotificationRequest, protocol.BootNotificationResponse]{
				DefaultResult: defaultResult, DeferSent: true, Bus: bus, Logger: logger,
			}),
		Heartbeat: NewPipeline(protocol.ActionHeartbeat,
			func(protocol.HeartbeatRequest, string) protocol.HeartbeatResponse {
				return protocol.HeartbeatResponse{CurrentTime: time.Now().UTC()}
			},
			Options[protocol.HeartbeatRequest, protocol.HeartbeatResponse]{
				DefaultResult: defaultResult, Bus: bus, Logger: logger,
			}),
		StatusNotification: NewPipeline(protocol.ActionStatusNotification,
			func(protocol.StatusNotificationRequest, string) protocol.StatusNotificationResponse {
				return protocol.StatusNotificationResponse{}
			},
			Options[protocol.StatusNotificationRequest, protocol.StatusNotificationResponse]{
				DefaultResult: defaultResult, Bus: bus, Logger: logger,
			}),
		MeterValues: NewPipeline(protocol.ActionMeterValues,
			func(protocol.MeterValuesRequest, string) protocol.MeterValuesResponse {
				return protocol.MeterValuesResponse{}
			},
			Options[protocol.MeterValuesRequest, protocol.MeterValuesResponse]{
				DefaultResult: defaultResult, DeferSent: true, Bus: bus, Logger: logger,
			}),
		FirmwareStatusNotification: NewPipeline(protocol.ActionFirmwareStatusNotification,
			func(protocol.FirmwareStatusNotificationRequest, string) protocol.FirmwareStatusNotificationResponse {
				return protocol.FirmwareStatusNotificationResponse{}
			},
			Options[protocol.FirmwareStatusNotificationRequest, protocol.FirmwareStatusNotificationResponse]{
				DefaultResult: defaultResult, Bus: bus, Logger: logger,
			}),
		PublishFirmwareStatusNotification: NewPipeline(protocol.ActionPublishFirmwareStatusNotification,
			func(protocol.PublishFirmwareStatusNotificationRequest, string) protocol.PublishFirmwareStatusNotificationResponse {
				return protocol.PublishFirmwareStatusNotificationResponse{}
			},
			Options[protocol.PublishFirmwareStatusNotificationRequest, protocol.PublishFirmwareStatusNotificationResponse]{
				DefaultResult: defaultResult, Bus: bus, Logger: logger,
			}),
		Reset: NewPipeline(protocol.ActionReset,
			func(protocol.ResetRequest, string) protocol.ResetResponse {
				return protocol.ResetResponse{Status: protocol.StatusRejected}
			},
			Options[protocol.ResetRequest, protocol.ResetResponse]{
				DefaultResult: defaultResult, DeferSent: true, Bus: bus, Logger: logger,
			}),
		ChangeAvailability: NewPipeline(protocol.ActionChangeAvailability,
			func(protocol.ChangeAvailabilityRequest, string) protocol.ChangeAvailabilityResponse {
				return protocol.ChangeAvailabilityResponse{Status: protocol.StatusRejected}
			},
			Options[protocol.ChangeAvailabilityRequest, protocol.ChangeAvailabilityResponse]{
				DefaultResult: defaultResult, DeferSent: true, Bus: bus, Logger: logger,
			}),
	}
}

// StationOriginated returns the pipelines for messages a station sends to the central system.
func (p *Pipelines) StationOriginated() []Processor {
	return []Processor{
		p.BootNotification,
		p.Heartbeat,
		p.StatusNotification,
		p.MeterValues,
		p.FirmwareStatusNotification,
		p.PublishFirmwareStatusNotification,
	}
}

// CentralOriginated returns the pipelines for messages the central system sends to a station.
func (p *Pipelines) CentralOriginated() []Processor {
	return []Processor{
		p.Reset,
		p.ChangeAvailability,
	}
}
