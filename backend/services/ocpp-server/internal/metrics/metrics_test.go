package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/events"
)

func TestMetricsFollowBus(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	m := New()
	defer m.Attach(bus)()

	bus.Publish(events.Event{Type: events.ConnectionRegistered, Identity: "CP-1"})
	bus.Publish(events.Event{Type: events.ConnectionRegistered, Identity: "CP-2"})
	bus.Publish(events.Event{Type: events.ConnectionUnregistered, Identity: "CP-1"})
	bus.Publish(events.Event{Type: events.CallCompleted, Action: "Reset", Duration: 20 * time.Millisecond})
	bus.Publish(events.Event{Type: events.CallFailed, Action: "Reset", Result: "Timeout"})
	bus.Publish(events.Event{Type: events.ForwardFiltered, Action: "BootNotification", Result: "REJECT"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections.WithLabelValues(string(events.ConnectionRegistered))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues(string(events.ConnectionUnregistered))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("Reset", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("Reset", "Timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.forwarded.WithLabelValues("BootNotification", "REJECT")))
}

func TestMetricsHandlerExposesGauges(t *testing.T) {
	m := New()
	m.Gauge("connected_stations", "Stations with a live connection.", func() float64 { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ocpp_connected_stations 3"))
}
