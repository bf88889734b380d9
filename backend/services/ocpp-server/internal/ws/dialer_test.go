package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocppgate/backend/services/ocpp-server/internal/registry"
)

const uplinkSecret = "uplink-secret-01"

// stationStub stands in for a downstream connection; only Tag and State are used.
type stationStub struct {
	registry.Connection
	proto string
}

func (s stationStub) Tag(key string) (string, bool) {
	if key == TagSubprotocol && s.proto != "" {
		return s.proto, true
	}
	return "", false
}

func (stationStub) State() registry.State { return registry.StateOpen }

type stationsFunc func(identity string) (registry.Connection, bool)

func (f stationsFunc) Lookup(identity string) (registry.Connection, bool) { return f(identity) }

func connectedAs(proto string) stationsFunc {
	return func(string) (registry.Connection, bool) { return stationStub{proto: proto}, true }
}

func newTestDialer(t *testing.T, baseURL string, uplinks *registry.Registry, stations StationSource) *Dialer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewDialer(ctx, DialerConfig{
		BaseURL:      baseURL,
		Subprotocols: []string{protocol.SubprotocolOCPP16, protocol.SubprotocolOCPP201},
		Stations:     stations,
		Password:     uplinkSecret,
		Registry:     uplinks,
		Processor:    ocpp.NewRouter(nil, nil, zap.NewNop()),
		Logger:       zap.NewNop(),
	})
}

func TestDialerOffersStationSubprotocol(t *testing.T) {
	upstream := newFixture(t, staticAuth{"CS1": uplinkSecret})
	uplinks := registry.New(nil, zap.NewNop())
	dialer := newTestDialer(t, upstream.wsURL, uplinks, connectedAs(protocol.SubprotocolOCPP201))

	require.NoError(t, dialer.Ensure(context.Background(), "CS1"))

	uplink, ok := uplinks.Lookup("CS1")
	require.True(t, ok)
	sub, _ := uplink.Tag(TagSubprotocol)
	assert.Equal(t, protocol.SubprotocolOCPP201, sub)

	waitFor(t, time.Second, func() bool { return upstream.registry.Len() == 1 })
	central, _ := upstream.registry.Lookup("CS1")
	sub, _ = central.Tag(TagSubprotocol)
	assert.Equal(t, protocol.SubprotocolOCPP201, sub)
}

func TestDialerFallsBackToConfiguredSubprotocols(t *testing.T) {
	upstream := newFixture(t, staticAuth{"CS1": uplinkSecret})
	uplinks := registry.New(nil, zap.NewNop())
	dialer := newTestDialer(t, upstream.wsURL, uplinks, connectedAs(""))

	require.NoError(t, dialer.Ensure(context.Background(), "CS1"))

	uplink, ok := uplinks.Lookup("CS1")
	require.True(t, ok)
	sub, _ := uplink.Tag(TagSubprotocol)
	assert.Equal(t, protocol.SubprotocolOCPP16, sub)
}

func TestDialerRejectsUnnegotiatedSubprotocol(t *testing.T) {
	// accepts the upgrade without selecting any subprotocol
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var upgrader websocket.Upgrader
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	uplinks := registry.New(nil, zap.NewNop())
	dialer := newTestDialer(t, "ws"+strings.TrimPrefix(srv.URL, "http"), uplinks, connectedAs(protocol.SubprotocolOCPP201))

	err := dialer.Ensure(context.Background(), "CS1")
	assert.ErrorIs(t, err, ErrSubprotocolMismatch)
	assert.Equal(t, 0, uplinks.Len())
}

func TestDialerBreakerIsPerStation(t *testing.T) {
	upstream := newFixture(t, staticAuth{"GOOD": uplinkSecret})
	uplinks := registry.New(nil, zap.NewNop())
	dialer := newTestDialer(t, upstream.wsURL, uplinks, nil)

	for i := 0; i < dialMaxFailures; i++ {
		err := dialer.Ensure(context.Background(), "BAD")
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.ErrorIs(t, dialer.Ensure(context.Background(), "BAD"), gobreaker.ErrOpenState)

	require.NoError(t, dialer.Ensure(context.Background(), "GOOD"))
	assert.Equal(t, 1, uplinks.Len())

	dialer.Release("BAD")
	err := dialer.Ensure(context.Background(), "BAD")
	require.Error(t, err)
	assert.NotErrorIs(t, err, gobreaker.ErrOpenState, "release forgets the breaker")
}

func TestDialerSkipsDepartedStation(t *testing.T) {
	upstream := newFixture(t, staticAuth{"CS1": uplinkSecret})
	uplinks := registry.New(nil, zap.NewNop())
	gone := func(string) (registry.Connection, bool) { return nil, false }
	dialer := newTestDialer(t, upstream.wsURL, uplinks, stationsFunc(gone))

	assert.ErrorIs(t, dialer.Ensure(context.Background(), "CS1"), ErrStationGone)
	assert.Equal(t, 0, uplinks.Len())
	assert.Equal(t, 0, upstream.registry.Len())
}

func TestDialerDropsUplinkWhenStationLeavesMidDial(t *testing.T) {
	upstream := newFixture(t, staticAuth{"CS1": uplinkSecret})
	uplinks := registry.New(nil, zap.NewNop())

	// the station is present when the dial starts and gone once the uplink is up
	var lookups atomic.Int32
	stations := stationsFunc(func(string) (registry.Connection, bool) {
		if lookups.Add(1) == 1 {
			return stationStub{proto: protocol.SubprotocolOCPP16}, true
		}
		return nil, false
	})
	dialer := newTestDialer(t, upstream.wsURL, uplinks, stations)

	assert.ErrorIs(t, dialer.Ensure(context.Background(), "CS1"), ErrStationGone)
	waitFor(t, 2*time.Second, func() bool { return uplinks.Len() == 0 && upstream.registry.Len() == 0 })
	assert.Equal(t, int32(2), lookups.Load())
}
