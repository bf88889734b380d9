package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/correlation"
	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocppgate/backend/services/ocpp-server/internal/registry"
)

type staticAuth map[string]string

func (a staticAuth) Verify(_ context.Context, identity, secret string) error {
	if want, ok := a[identity]; ok && want == secret {
		return nil
	}
	return errors.New("invalid credentials")
}

type fixture struct {
	srv      *httptest.Server
	registry *registry.Registry
	engine   *correlation.Engine
	router   *ocpp.Router
	wsURL    string
}

func newFixture(t *testing.T, auth Authenticator) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := registry.New(nil, zap.NewNop())
	engine := correlation.NewEngine(reg, time.Second, nil, zap.NewNop())
	router := ocpp.NewRouter(engine, nil, zap.NewNop())
	ocpp.Handle(router, protocol.ActionHeartbeat, func(context.Context, string, protocol.HeartbeatRequest) (protocol.HeartbeatResponse, error) {
		return protocol.HeartbeatResponse{CurrentTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, nil
	})

	server := NewServer(ctx, ServerConfig{
		Registry:     reg,
		Processor:    router,
		Auth:         auth,
		Subprotocols: []string{protocol.SubprotocolOCPP16, protocol.SubprotocolOCPP201},
		Settings:     Settings{PingInterval: time.Second, WriteTimeout: time.Second},
		Logger:       zap.NewNop(),
	})

	r := chi.NewRouter()
	r.Get("/ocpp/{identity}", server.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{
		srv:      srv,
		registry: reg,
		engine:   engine,
		router:   router,
		wsURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ocpp",
	}
}

func (f *fixture) dial(t *testing.T, identity string, header http.Header) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{protocol.SubprotocolOCPP16}}
	conn, _, err := dialer.Dial(f.wsURL+"/"+identity, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestHandshakeRequiresSubprotocol(t *testing.T) {
	f := newFixture(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL+"/CS1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	dialer := websocket.Dialer{Subprotocols: []string{"ocpp0.1"}}
	_, resp, err = dialer.Dial(f.wsURL+"/CS1", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandshakeNegotiatesOfferedSubprotocol(t *testing.T) {
	f := newFixture(t, nil)

	dialer := websocket.Dialer{Subprotocols: []string{"ocpp0.1", protocol.SubprotocolOCPP201}}
	conn, _, err := dialer.Dial(f.wsURL+"/CS1", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, protocol.SubprotocolOCPP201, conn.Subprotocol())

	waitFor(t, time.Second, func() bool { return f.registry.Len() == 1 })
	live, _ := f.registry.Lookup("CS1")
	sub, _ := live.Tag(TagSubprotocol)
	assert.Equal(t, protocol.SubprotocolOCPP201, sub)
}

func TestHandshakeBasicAuth(t *testing.T) {
	f := newFixture(t, staticAuth{"CS1": "s3cret-passphrase"})
	dialer := websocket.Dialer{Subprotocols: []string{protocol.SubprotocolOCPP16}}

	cases := []struct {
		name   string
		header http.Header
	}{
		{"missing", nil},
		{"wrong password", basicAuth("CS1", "nope")},
		{"username mismatch", basicAuth("CS2", "s3cret-passphrase")},
	}
	for _, tc := range cases {
		_, resp, err := dialer.Dial(f.wsURL+"/CS1", tc.header)
		require.Error(t, err, tc.name)
		require.NotNil(t, resp, tc.name)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, tc.name)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic", tc.name)
	}

	conn, _, err := dialer.Dial(f.wsURL+"/CS1", basicAuth("CS1", "s3cret-passphrase"))
	require.NoError(t, err)
	conn.Close()
}

func basicAuth(user, password string) http.Header {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(user, password)
	return http.Header{"Authorization": req.Header["Authorization"]}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "CS1", nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[2,"19223201","Heartbeat",{}]`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `[3,"19223201",{"currentTime":"2024-01-01T00:00:00Z"}]`, string(reply))
}

func TestCentralCallRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "CS1", nil)
	waitFor(t, time.Second, func() bool { return f.registry.Len() == 1 })

	go func() {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := ocpp.Parse(frame)
		if err != nil {
			return
		}
		reply, _ := ocpp.BuildCallResult(env.RequestID, protocol.ResetResponse{Status: protocol.StatusAccepted})
		_ = conn.WriteMessage(websocket.TextMessage, reply)
	}()

	payload, err := f.engine.Call(context.Background(), "CS1", protocol.ActionReset, protocol.ResetRequest{Type: "Soft"}, 2*time.Second)
	require.NoError(t, err)

	var resp protocol.ResetResponse
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, protocol.StatusAccepted, resp.Status)
}

func TestDuplicateIdentityClosesFirstConnection(t *testing.T) {
	f := newFixture(t, nil)
	first := f.dial(t, "CS1", nil)
	waitFor(t, time.Second, func() bool { return f.registry.Len() == 1 })
	firstConn, _ := f.registry.Lookup("CS1")

	second := f.dial(t, "CS1", nil)
	waitFor(t, time.Second, func() bool {
		live, ok := f.registry.Lookup("CS1")
		return ok && live != firstConn
	})

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err, "first connection must be closed by the server")
	waitFor(t, time.Second, func() bool { return firstConn.State() == registry.StateClosed })

	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`[2,"2","Heartbeat",{}]`)))
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, reply, err := second.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(reply), `"2"`)
	assert.Equal(t, 1, f.registry.Len())
}

func TestDisconnectUnregisters(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t, "CS1", nil)
	waitFor(t, time.Second, func() bool { return f.registry.Len() == 1 })

	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return f.registry.Len() == 0 })
}

func TestDialerEnsureAndRelease(t *testing.T) {
	upstream := newFixture(t, staticAuth{"CS1": "uplink-secret-01"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	uplinks := registry.New(nil, zap.NewNop())
	dialer := NewDialer(ctx, DialerConfig{
		BaseURL:      upstream.wsURL + "/",
		Subprotocols: []string{protocol.SubprotocolOCPP16},
		Password:     "uplink-secret-01",
		Registry:     uplinks,
		Processor:    ocpp.NewRouter(nil, nil, zap.NewNop()),
		Logger:       zap.NewNop(),
	})

	require.NoError(t, dialer.Ensure(context.Background(), "CS1"))
	require.NoError(t, dialer.Ensure(context.Background(), "CS1"))
	assert.Equal(t, 1, uplinks.Len())
	waitFor(t, time.Second, func() bool { return upstream.registry.Len() == 1 })

	dialer.Release("CS1")
	waitFor(t, 2*time.Second, func() bool { return uplinks.Len() == 0 && upstream.registry.Len() == 0 })

	assert.Error(t, dialer.Ensure(context.Background(), "CS2"), "CS2 has no credential upstream")
}
