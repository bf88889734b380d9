package ws

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/registry"
)

// IdentityParam is the chi URL parameter carrying the station identity.
const IdentityParam = "identity"

// Authenticator checks a station's Basic-auth secret.
type Authenticator interface {
	Verify(ctx context.Context, identity, secret string) error
}

// ServerConfig wires a Server. Auth nil disables Basic auth; OnDisconnect may be nil.
type ServerConfig struct {
	Registry     *registry.Registry
	Processor    MessageProcessor
	Auth         Authenticator
	Subprotocols []string
	Settings     Settings
	// OnDisconnect runs when a station's live connection goes away, not when it is
	// replaced by a newer one.
	OnDisconnect func(identity string)
	Logger       *zap.Logger
}

// Server upgrades HTTP connections to OCPP WebSockets.
type Server struct {
	cfg      ServerConfig
	baseCtx  context.Context
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer builds a ws server. Connections live until ctx is cancelled or they close.
func NewServer(ctx context.Context, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		baseCtx: ctx,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is the HTTP handler for GET /ocpp/{identity}.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, IdentityParam)
	if identity == "" {
		http.Error(w, "station identity is required", http.StatusBadRequest)
		return
	}

	subprotocol := negotiate(websocket.Subprotocols(r), s.cfg.Subprotocols)
	if subprotocol == "" {
		s.logger.Info("rejecting handshake without supported subprotocol",
			zap.String("station_id", identity),
			zap.Strings("offered", websocket.Subprotocols(r)))
		http.Error(w, "no supported OCPP subprotocol offered", http.StatusBadRequest)
		return
	}

	if s.cfg.Auth != nil {
		user, secret, ok := r.BasicAuth()
		if !ok || user != identity || s.cfg.Auth.Verify(r.Context(), identity, secret) != nil {
			s.logger.Warn("station authentication failed", zap.String("station_id", identity), zap.String("remote", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Basic realm="ocpp", charset="UTF-8"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", subprotocol)
	wsConn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.String("station_id", identity), zap.Error(err))
		return
	}

	conn := NewConnection(wsConn, s.cfg.Processor, s.cfg.Settings, s.logger, func(c *Connection) {
		if s.cfg.Registry.Unregister(c) {
			s.logger.Info("station disconnected", zap.String("station_id", identity))
			if s.cfg.OnDisconnect != nil {
				s.cfg.OnDisconnect(identity)
			}
		}
	})
	conn.SetTag(TagSubprotocol, subprotocol)
	s.cfg.Registry.Register(identity, conn)

	go conn.Start(s.baseCtx)
	s.logger.Info("station connected",
		zap.String("station_id", identity),
		zap.String("subprotocol", subprotocol),
		zap.String("remote", conn.RemoteAddr()))
}

// negotiate picks the first offered subprotocol the server supports.
func negotiate(offered, supported []string) string {
	for _, o := range offered {
		for _, s := range supported {
			if o == s {
				return o
			}
		}
	}
	return ""
}
