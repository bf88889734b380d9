package ws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ocppgate/backend/services/ocpp-server/internal/registry"
)

const (
	dialTimeout        = 10 * time.Second
	dialMaxFailures    = 3
	dialBreakerTimeout = 15 * time.Second
)

var (
	// ErrSubprotocolMismatch means the central system did not accept the station's subprotocol.
	ErrSubprotocolMismatch = errors.New("ws: uplink subprotocol mismatch")
	// ErrStationGone means the station disconnected before its uplink was up.
	ErrStationGone = errors.New("ws: station disconnected")
)

// StationSource resolves the live downstream connection of a station.
type StationSource interface {
	Lookup(identity string) (registry.Connection, bool)
}

// DialerConfig wires a Dialer.
type DialerConfig struct {
	// BaseURL of the central system; the station identity is appended as a path segment.
	BaseURL string
	// Subprotocols are offered when the station's own subprotocol is unknown.
	Subprotocols []string
	// Stations, when set, pins each uplink to the subprotocol its station negotiated
	// and drops uplinks whose station is gone.
	Stations StationSource
	// Password, when set, is sent as Basic auth with the station identity as username.
	Password  string
	Registry  *registry.Registry
	Processor MessageProcessor
	Settings  Settings
	Logger    *zap.Logger
}

// Dialer opens one upstream connection per station identity on demand.
type Dialer struct {
	cfg      DialerConfig
	baseCtx  context.Context
	breakers sync.Map // identity -> *gobreaker.CircuitBreaker[*websocket.Conn]
	group    singleflight.Group
	logger   *zap.Logger
}

// NewDialer returns a dialer. Upstream connections live until ctx is cancelled.
func NewDialer(ctx context.Context, cfg DialerConfig) *Dialer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{
		cfg:     cfg,
		baseCtx: ctx,
		logger:  logger,
	}
}

// breakerFor returns identity's breaker, creating it on first use.
func (d *Dialer) breakerFor(identity string) *gobreaker.CircuitBreaker[*websocket.Conn] {
	if cb, ok := d.breakers.Load(identity); ok {
		return cb.(*gobreaker.CircuitBreaker[*websocket.Conn])
	}
	cb, _ := d.breakers.LoadOrStore(identity, gobreaker.NewCircuitBreaker[*websocket.Conn](gobreaker.Settings{
		Name:        "uplink:" + identity,
		MaxRequests: 1,
		Timeout:     dialBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= dialMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}))
	return cb.(*gobreaker.CircuitBreaker[*websocket.Conn])
}

// subprotocolFor returns the subprotocol the station negotiated downstream, if known.
// ok is false when the station is no longer connected.
func (d *Dialer) subprotocolFor(identity string) (proto string, ok bool) {
	if d.cfg.Stations == nil {
		return "", true
	}
	station, ok := d.cfg.Stations.Lookup(identity)
	if !ok || station.State() == registry.StateClosed {
		return "", false
	}
	proto, _ = station.Tag(TagSubprotocol)
	return proto, true
}

func (d *Dialer) stationLive(identity string) bool {
	_, ok := d.subprotocolFor(identity)
	return ok
}

// Ensure makes sure identity has an open upstream connection, dialing one if needed.
// Concurrent callers for the same identity share one dial.
func (d *Dialer) Ensure(ctx context.Context, identity string) error {
	if conn, ok := d.cfg.Registry.Lookup(identity); ok && conn.State() != registry.StateClosed {
		return nil
	}
	_, err, _ := d.group.Do(identity, func() (interface{}, error) {
		if conn, ok := d.cfg.Registry.Lookup(identity); ok && conn.State() != registry.StateClosed {
			return nil, nil
		}
		return nil, d.dial(ctx, identity)
	})
	return err
}

func (d *Dialer) dial(ctx context.Context, identity string) error {
	target, err := d.uplinkURL(identity)
	if err != nil {
		return err
	}
	proto, ok := d.subprotocolFor(identity)
	if !ok {
		return ErrStationGone
	}
	offered := d.cfg.Subprotocols
	if proto != "" {
		offered = []string{proto}
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: dialTimeout,
		Subprotocols:     offered,
	}

	header := http.Header{}
	if d.cfg.Password != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(identity + ":" + d.cfg.Password))
		header.Set("Authorization", "Basic "+creds)
	}

	wsConn, err := d.breakerFor(identity).Execute(func() (*websocket.Conn, error) {
		c, resp, err := dialer.DialContext(ctx, target, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("ws: dial %s: %w (status %d)", target, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("ws: dial %s: %w", target, err)
		}
		if proto != "" && c.Subprotocol() != proto {
			got := c.Subprotocol()
			_ = c.Close()
			return nil, fmt.Errorf("%w: want %q, got %q", ErrSubprotocolMismatch, proto, got)
		}
		return c, nil
	})
	if err != nil {
		return err
	}

	conn := NewConnection(wsConn, d.cfg.Processor, d.cfg.Settings, d.logger, func(c *Connection) {
		d.cfg.Registry.Unregister(c)
	})
	conn.SetTag(TagSubprotocol, wsConn.Subprotocol())
	d.cfg.Registry.Register(identity, conn)
	go conn.Start(d.baseCtx)

	// Release runs after the station leaves the downstream registry, so an uplink
	// registered above is either seen by Release or dropped here.
	if !d.stationLive(identity) {
		d.breakers.Delete(identity)
		if err := conn.Close(); err != nil {
			d.logger.Debug("close uplink failed", zap.String("station_id", identity), zap.Error(err))
		}
		return ErrStationGone
	}

	d.logger.Info("uplink connected",
		zap.String("station_id", identity),
		zap.String("url", target),
		zap.String("subprotocol", wsConn.Subprotocol()))
	return nil
}

// Release closes identity's upstream connection, if any, and forgets its breaker.
func (d *Dialer) Release(identity string) {
	d.breakers.Delete(identity)
	if conn, ok := d.cfg.Registry.Lookup(identity); ok {
		if err := conn.Close(); err != nil {
			d.logger.Debug("close uplink failed", zap.String("station_id", identity), zap.Error(err))
		}
	}
}

func (d *Dialer) uplinkURL(identity string) (string, error) {
	base, err := url.Parse(strings.TrimRight(d.cfg.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("ws: parse upstream url: %w", err)
	}
	return base.String() + "/" + url.PathEscape(identity), nil
}
