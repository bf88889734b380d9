package events

import "go.uber.org/zap"

// LogSink writes every event to logger at debug level, failures at warn.
func LogSink(logger *zap.Logger) Handler {
	return func(ev Event) {
		fields := []zap.Field{
			zap.String("event", string(ev.Type)),
			zap.String("station_id", ev.Identity),
		}
		if ev.Action != "" {
			fields = append(fields, zap.String("action", ev.Action))
		}
		if ev.RequestID != "" {
			fields = append(fields, zap.String("request_id", ev.RequestID))
		}
		if ev.Result != "" {
			fields = append(fields, zap.String("result", ev.Result))
		}
		if ev.Duration > 0 {
			fields = append(fields, zap.Duration("duration", ev.Duration))
		}
		if ev.Err != nil {
			logger.Warn("ocpp event", append(fields, zap.Error(ev.Err))...)
			return
		}
		logger.Debug("ocpp event", fields...)
	}
}
