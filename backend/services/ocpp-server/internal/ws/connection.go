package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/registry"
)

// TagSubprotocol holds the negotiated OCPP subprotocol.
const TagSubprotocol = "subprotocol"

var (
	ErrConnectionClosed = errors.New("ws: connection closed")
	ErrSendTimeout      = errors.New("ws: send timed out")
)

// MessageProcessor handles raw OCPP messages.
type MessageProcessor interface {
	Process(ctx context.Context, identity string, raw []byte) ([]byte, error)
}

// Settings tune a connection's keepalive, buffers and inbound throttling.
type Settings struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	SendBuffer   int
	// InboundRate is frames per second accepted from the peer; 0 disables throttling.
	InboundRate  float64
	InboundBurst int
}

func (s Settings) withDefaults() Settings {
	if s.PingInterval <= 0 {
		s.PingInterval = 30 * time.Second
	}
	if s.PongWait <= 0 {
		s.PongWait = 2 * s.PingInterval
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.ReadLimit <= 0 {
		s.ReadLimit = 1024 * 1024
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = 16
	}
	if s.InboundRate > 0 && s.InboundBurst <= 0 {
		s.InboundBurst = 1
	}
	return s
}

// Connection is one OCPP WebSocket, either accepted from a station or dialed to the
// central system. It implements registry.Connection.
type Connection struct {
	id         string
	ws         *websocket.Conn
	remoteAddr string
	settings   Settings
	limiter    *rate.Limiter
	processor  MessageProcessor
	logger     *zap.Logger
	onClose    func(*Connection)

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	tagsMu sync.RWMutex
	tags   map[string]string
}

// NewConnection wraps ws. onClose runs once, after the socket is closed.
func NewConnection(ws *websocket.Conn, processor MessageProcessor, settings Settings, logger *zap.Logger, onClose func(*Connection)) *Connection {
	settings = settings.withDefaults()
	c := &Connection{
		id:         uuid.NewString(),
		ws:         ws,
		remoteAddr: ws.RemoteAddr().String(),
		settings:   settings,
		processor:  processor,
		logger:     logger,
		onClose:    onClose,
		send:       make(chan []byte, settings.SendBuffer),
		done:       make(chan struct{}),
		tags:       make(map[string]string),
	}
	if settings.InboundRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(settings.InboundRate), settings.InboundBurst)
	}
	c.state.Store(int32(registry.StateConnecting))
	return c
}

func (c *Connection) ID() string         { return c.id }
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

func (c *Connection) State() registry.State {
	return registry.State(c.state.Load())
}

func (c *Connection) Tag(key string) (string, bool) {
	c.tagsMu.RLock()
	defer c.tagsMu.RUnlock()
	v, ok := c.tags[key]
	return v, ok
}

func (c *Connection) SetTag(key, value string) {
	c.tagsMu.Lock()
	c.tags[key] = value
	c.tagsMu.Unlock()
}

// Identity returns the registered station identity, if any.
func (c *Connection) Identity() string {
	id, _ := c.Tag(registry.TagIdentity)
	return id
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Start launches the write pump and runs the read pump until the connection closes.
// Handlers dispatched from this connection see ctx cancelled once it closes.
func (c *Connection) Start(ctx context.Context) {
	if !c.state.CompareAndSwap(int32(registry.StateConnecting), int32(registry.StateOpen)) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-c.done
		cancel()
	}()
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.Close()
	c.ws.SetReadLimit(c.settings.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("connection read closed", zap.String("station_id", c.Identity()), zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
		}
		go c.dispatch(ctx, message)
	}
}

// dispatch runs on its own goroutine so a CALL handler waiting on an outbound call
// never blocks reading the response it waits for.
func (c *Connection) dispatch(ctx context.Context, message []byte) {
	identity := c.Identity()
	reply, err := c.processor.Process(ctx, identity, message)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, ocpp.ErrUnsolicitedResponse) || errors.Is(err, ocpp.ErrUnknownAction) {
			level = zap.DebugLevel
		}
		if ce := c.logger.Check(level, "frame dropped"); ce != nil {
			ce.Write(zap.String("station_id", identity), zap.Error(err))
		}
		return
	}
	if reply == nil {
		return
	}
	if err := c.Send(ctx, reply); err != nil {
		c.logger.Warn("reply not sent", zap.String("station_id", identity), zap.Error(err))
	}
}

func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", zap.String("station_id", c.Identity()), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Send queues frame for writing. It fails when the connection is closed, ctx ends or
// the queue stays full for longer than the write timeout.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	if c.State() == registry.StateClosed {
		return ErrConnectionClosed
	}
	timer := time.NewTimer(c.settings.WriteTimeout)
	defer timer.Stop()

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrSendTimeout
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// Close sends a close frame, closes the socket and runs onClose. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(registry.StateClosed))
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}
