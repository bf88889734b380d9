package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/correlation"
	"ocppgate/backend/services/ocpp-server/internal/models"
	"ocppgate/backend/services/ocpp-server/internal/registry"
	"ocppgate/backend/services/ocpp-server/internal/service"
	"ocppgate/backend/services/ocpp-server/internal/ws"
)

// Directory lists live station connections.
type Directory interface {
	Entries() []registry.Entry
}

// Caller sends a CALL to a station and waits for the answer.
type Caller interface {
	Call(ctx context.Context, identity, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error)
}

// StationsHandlers serves connected-station queries and outbound calls.
type StationsHandlers struct {
	directory Directory
	state     *service.StationState
	caller    Caller
	logger    *zap.Logger
}

// NewStationsHandlers ctor. state may be nil.
func NewStationsHandlers(directory Directory, state *service.StationState, caller Caller, logger *zap.Logger) *StationsHandlers {
	return &StationsHandlers{directory: directory, state: state, caller: caller, logger: logger}
}

// List returns the connected stations.
func (h *StationsHandlers) List(w http.ResponseWriter, _ *http.Request) {
	entries := h.directory.Entries()
	out := make([]models.ConnectedStation, 0, len(entries))
	for _, e := range entries {
		st := models.ConnectedStation{
			Identity:     e.Identity,
			ConnectionID: e.Conn.ID(),
			RemoteAddr:   e.Conn.RemoteAddr(),
			RegisteredAt: e.RegisteredAt,
		}
		if proto, ok := e.Conn.Tag(ws.TagSubprotocol); ok {
			st.Subprotocol = proto
		}
		if h.state != nil {
			if rt, ok := h.state.Get(e.Identity); ok {
				st.Status = rt.Status
				st.FirmwareStatus = rt.FirmwareStatus
				if !rt.LastHeartbeat.IsZero() {
					hb := rt.LastHeartbeat
					st.LastHeartbeat = &hb
				}
				if len(rt.Connectors) > 0 {
					st.Connectors = make(map[int]string, len(rt.Connectors))
					for id, c := range rt.Connectors {
						st.Connectors[id] = c.Status
					}
				}
			}
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

// Call sends the request body as a CALL for {action} to {identity}. An optional
// ?timeout= overrides the engine default.
func (h *StationsHandlers) Call(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	action := chi.URLParam(r, "action")

	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload) == 0 || payload[0] != '{' {
		writeError(w, http.StatusBadRequest, "body must be a json object")
		return
	}

	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = parsed
	}

	result, err := h.caller.Call(r.Context(), identity, action, payload, timeout)
	if err != nil {
		h.writeCallError(w, identity, action, err)
		return
	}
	writeRaw(w, http.StatusOK, result)
}

type callErrorBody struct {
	Error       string          `json:"error"`
	Kind        string          `json:"kind"`
	Code        string          `json:"code,omitempty"`
	Description string          `json:"description,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
}

func (h *StationsHandlers) writeCallError(w http.ResponseWriter, identity, action string, err error) {
	var callErr *correlation.CallError
	if !errors.As(err, &callErr) {
		h.logger.Error("call failed", zap.String("station_id", identity), zap.String("action", action), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusBadGateway
	switch callErr.Kind {
	case correlation.KindUnknownClient:
		status = http.StatusNotFound
	case correlation.KindTimeout:
		status = http.StatusGatewayTimeout
	case correlation.KindCancelled:
		status = http.StatusServiceUnavailable
	case correlation.KindInternalError:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, callErrorBody{
		Error:       callErr.Error(),
		Kind:        callErr.Kind.String(),
		Code:        string(callErr.Code),
		Description: callErr.Description,
		Details:     callErr.Details,
	})
}
