package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"ocppgate/backend/services/ocpp-server/internal/correlation"
	"ocppgate/backend/services/ocpp-server/internal/credentials"
	"ocppgate/backend/services/ocpp-server/internal/http/handlers"
	"ocppgate/backend/services/ocpp-server/internal/http/middleware"
	"ocppgate/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocppgate/backend/services/ocpp-server/internal/registry"
	"ocppgate/backend/services/ocpp-server/internal/service"
	"ocppgate/backend/services/ocpp-server/internal/ws"
)

type fakeConn struct {
	id   string
	mu   sync.Mutex
	tags map[string]string
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, tags: make(map[string]string)}
}

func (c *fakeConn) ID() string                         { return c.id }
func (c *fakeConn) RemoteAddr() string                 { return "10.0.0.7:4000" }
func (c *fakeConn) State() registry.State              { return registry.StateOpen }
func (c *fakeConn) Send(context.Context, []byte) error { return nil }
func (c *fakeConn) Close() error                       { return nil }

func (c *fakeConn) Tag(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.tags[key]
	return v, ok
}

func (c *fakeConn) SetTag(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[key] = value
}

type fakeCaller struct {
	result  json.RawMessage
	err     error
	got     json.RawMessage
	timeout time.Duration
}

func (c *fakeCaller) Call(_ context.Context, identity, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	c.got, _ = payload.(json.RawMessage)
	c.timeout = timeout
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

type fixture struct {
	handler http.Handler
	token   string
	caller  *fakeCaller
	creds   *credentials.Service
	reg     *registry.Registry
	state   *service.StationState
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens := service.NewTokenService("test-secret", time.Minute)
	token, err := tokens.GenerateToken("ops", service.RoleAdmin)
	require.NoError(t, err)

	f := &fixture{
		token:  token,
		caller: &fakeCaller{result: json.RawMessage(`{"status":"Accepted"}`)},
		creds:  credentials.NewService(credentials.NewMemoryRepository(), credentials.NewBcryptHasher(bcrypt.MinCost), zap.NewNop()),
		reg:    registry.New(nil, zap.NewNop()),
		state:  service.NewStationState(),
	}
	f.handler = NewRouter(RouterDeps{
		OCPP: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		},
		CredentialsHandlers: handlers.NewCredentialsHandlers(f.creds, zap.NewNop()),
		StationsHandlers:    handlers.NewStationsHandlers(f.reg, f.state, f.caller, zap.NewNop()),
		AuthMiddleware:      middleware.AuthMiddleware(tokens),
		Logger:              zap.NewNop(),
	})
	return f
}

func (f *fixture) do(method, path, body string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authorized {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndOCPPRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/ocpp/CP-1", "", false)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/stations", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tokens := service.NewTokenService("test-secret", time.Minute)
	viewer, err := tokens.GenerateToken("someone", "viewer")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/stations", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAddCredential(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/credentials", `{"identity":"CP-1","secret":"0123456789abcdef"}`, true)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoError(t, f.creds.Verify(context.Background(), "CP-1", "0123456789abcdef"))

	rec = f.do(http.MethodPost, "/api/credentials", `{"identity":"CP-1","secret":"short"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/credentials", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListStations(t *testing.T) {
	f := newFixture(t)
	conn := newFakeConn("conn-1")
	conn.SetTag(ws.TagSubprotocol, protocol.SubprotocolOCPP16)
	f.reg.Register("CP-1", conn)
	f.state.UpdateStation("CP-1", protocol.ConnectorAvailable)
	f.state.UpdateConnector("CP-1", 1, protocol.ConnectorCharging, "NoError")

	rec := f.do(http.MethodGet, "/api/stations", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "CP-1", got[0]["identity"])
	assert.Equal(t, "conn-1", got[0]["connectionId"])
	assert.Equal(t, protocol.SubprotocolOCPP16, got[0]["subprotocol"])
	assert.Equal(t, protocol.ConnectorAvailable, got[0]["status"])
	assert.Equal(t, map[string]interface{}{"1": protocol.ConnectorCharging}, got[0]["connectors"])
}

func TestCallStation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/stations/CP-1/calls/Reset?timeout=5s", `{"type":"Soft"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"Accepted"}`, rec.Body.String())
	assert.JSONEq(t, `{"type":"Soft"}`, string(f.caller.got))
	assert.Equal(t, 5*time.Second, f.caller.timeout)
}

func TestCallStationRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/stations/CP-1/calls/Reset", `[1,2]`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/stations/CP-1/calls/Reset?timeout=soon", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallStationErrorMapping(t *testing.T) {
	cases := []struct {
		kind   correlation.Kind
		status int
	}{
		{correlation.KindUnknownClient, http.StatusNotFound},
		{correlation.KindTimeout, http.StatusGatewayTimeout},
		{correlation.KindTransmissionFailed, http.StatusBadGateway},
		{correlation.KindProtocolError, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			f := newFixture(t)
			f.caller.err = &correlation.CallError{
				Kind:        tc.kind,
				Identity:    "CP-1",
				Action:      "Reset",
				Code:        protocol.ErrorNotSupported,
				Description: "nope",
			}

			rec := f.do(http.MethodPost, "/api/stations/CP-1/calls/Reset", `{}`, true)
			assert.Equal(t, tc.status, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.kind.String(), body["kind"])
		})
	}
}
