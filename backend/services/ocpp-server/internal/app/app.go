package app

import (
	"context"
	"database/sql"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libredis "ocppgate/backend/libs/redis"

	"ocppgate/backend/services/ocpp-server/internal/config"
	"ocppgate/backend/services/ocpp-server/internal/correlation"
	"ocppgate/backend/services/ocpp-server/internal/credentials"
	"ocppgate/backend/services/ocpp-server/internal/db"
	"ocppgate/backend/services/ocpp-server/internal/events"
	"ocppgate/backend/services/ocpp-server/internal/forwarding"
	"ocppgate/backend/services/ocpp-server/internal/handlers"
	httpserver "ocppgate/backend/services/ocpp-server/internal/http"
	httphandlers "ocppgate/backend/services/ocpp-server/internal/http/handlers"
	"ocppgate/backend/services/ocpp-server/internal/http/middleware"
	"ocppgate/backend/services/ocpp-server/internal/metrics"
	"ocppgate/backend/services/ocpp-server/internal/ocpp"
	"ocppgate/backend/services/ocpp-server/internal/presence"
	"ocppgate/backend/services/ocpp-server/internal/registry"
	"ocppgate/backend/services/ocpp-server/internal/repository"
	"ocppgate/backend/services/ocpp-server/internal/service"
	"ocppgate/backend/services/ocpp-server/internal/ws"
)

// App wires all dependencies for the OCPP server.
type App struct {
	httpServer *httpserver.Server
	db         *sql.DB
	redis      *goredis.Client
	engines    []*correlation.Engine
	tracker    *presence.Tracker
	webhook    *events.WebhookSink
	logger     *zap.Logger
}

// New builds the application graph. ctx bounds the lifetime of station connections.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	bus := events.NewBus(logger.Named("events"))
	bus.SubscribeAll(events.LogSink(logger.Named("events")))

	m := metrics.New()
	m.Attach(bus)

	if url := strings.TrimSpace(cfg.EventWebhookURL); url != "" {
		a.webhook = events.NewWebhookSink(url, nil, logger.Named("webhook"))
		bus.SubscribeAll(a.webhook.Handle)
	}

	var (
		msgLog   ocpp.MessageLog
		stations handlers.StationStore
		credRepo credentials.Repository = credentials.NewMemoryRepository()
	)
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		sqlDB, err := db.NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		a.db = sqlDB
		msgLog = repository.NewOCPPLogRepository(sqlDB)
		stations = repository.NewStationRepository(sqlDB)
		credRepo = repository.NewCredentialRepository(sqlDB)
	}
	creds := credentials.NewService(credRepo, credentials.NewBcryptHasher(0), logger.Named("credentials"))

	settings := ws.Settings{
		PingInterval: cfg.PingInterval(),
		WriteTimeout: cfg.WriteTimeout(),
		ReadLimit:    cfg.WebSocket.ReadLimit,
		InboundRate:  cfg.WebSocket.InboundRate,
		InboundBurst: cfg.WebSocket.InboundBurst,
	}

	conns := registry.New(bus, logger.Named("registry"))
	toStation := correlation.NewEngine(conns, cfg.CallTimeout, bus, logger.Named("correlation"))
	downstream := ocpp.NewRouter(toStation, msgLog, logger.Named("router"))
	a.engines = append(a.engines, toStation)

	var (
		state        *service.StationState
		onDisconnect func(string)
	)
	switch cfg.Mode {
	case config.ModeNode:
		uplinks := registry.New(nil, logger.Named("uplinks"))
		toCentral := correlation.NewEngine(uplinks, cfg.CallTimeout, bus, logger.Named("correlation.upstream"))
		upstream := ocpp.NewRouter(toCentral, msgLog, logger.Named("router.upstream"))
		a.engines = append(a.engines, toCentral)

		dialer := ws.NewDialer(ctx, ws.DialerConfig{
			BaseURL:      cfg.Node.UpstreamURL,
			Subprotocols: cfg.WebSocket.Subprotocols,
			Password:     cfg.Node.UpstreamPassword,
			Stations:     conns,
			Registry:     uplinks,
			Processor:    upstream,
			Settings:     settings,
			Logger:       logger.Named("dialer"),
		})
		onDisconnect = dialer.Release
		// open the uplink as soon as a station connects so the central system can reach it
		bus.Subscribe(events.ConnectionRegistered, func(ev events.Event) {
			go func() {
				if err := dialer.Ensure(ctx, ev.Identity); err != nil {
					logger.Warn("uplink dial failed", zap.String("station_id", ev.Identity), zap.Error(err))
				}
			}()
		})

		node := forwarding.NewNode(forwarding.NodeConfig{
			Downstream:  downstream,
			Upstream:    upstream,
			ToCentral:   toCentral,
			ToStation:   toStation,
			Uplinks:     dialer,
			CallTimeout: cfg.CallTimeout,
			Logger:      logger,
		})
		pipelines := forwarding.NewPipelines(cfg.DefaultForwardingResult(), bus, logger)
		node.Mount(pipelines.StationOriginated(), pipelines.CentralOriginated())

		m.Gauge("uplink_connections", "Open upstream connections.", func() float64 { return float64(uplinks.Len()) })
	default:
		state = service.NewStationState()
		handlers.Register(downstream, handlers.Deps{
			Stations:          stations,
			State:             state,
			HeartbeatInterval: cfg.HeartbeatInterval,
			Logger:            logger,
		})
	}

	m.Gauge("connected_stations", "Stations with a live connection.", func() float64 { return float64(conns.Len()) })
	m.Gauge("pending_calls", "Outbound calls awaiting a response.", func() float64 {
		total := 0
		for _, e := range a.engines {
			total += e.Pending()
		}
		return float64(total)
	})

	var auth ws.Authenticator
	if cfg.WebSocket.BasicAuth {
		auth = creds
	}
	wsServer := ws.NewServer(ctx, ws.ServerConfig{
		Registry:     conns,
		Processor:    downstream,
		Auth:         auth,
		Subprotocols: cfg.WebSocket.Subprotocols,
		Settings:     settings,
		OnDisconnect: onDisconnect,
		Logger:       logger.Named("ws"),
	})

	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		store := presence.NewStore(presence.NewRedisBackend(client), cfg.Redis.PresenceTTL)
		a.tracker = presence.NewTracker(store, conns, cfg.NodeID(), logger)
		a.tracker.Attach(bus)
	}

	deps := httpserver.RouterDeps{
		OCPP:    wsServer.HandleWS,
		Metrics: m.Handler(),
		Logger:  logger,
	}
	if secret := strings.TrimSpace(cfg.AdminJWTSecret); secret != "" {
		tokens := service.NewTokenService(secret, 0)
		deps.AuthMiddleware = middleware.AuthMiddleware(tokens)
		deps.CredentialsHandlers = httphandlers.NewCredentialsHandlers(creds, logger.Named("api"))
		deps.StationsHandlers = httphandlers.NewStationsHandlers(conns, state, toStation, logger.Named("api"))
	}
	a.httpServer = httpserver.NewServer(cfg.HTTPAddress(), httpserver.NewRouter(deps), logger)

	logger.Info("ocpp server configured",
		zap.String("mode", cfg.Mode),
		zap.String("node_id", cfg.NodeID()),
		zap.Strings("subprotocols", cfg.WebSocket.Subprotocols),
		zap.Bool("basic_auth", auth != nil),
		zap.Bool("persistence", a.db != nil),
		zap.Bool("presence", a.tracker != nil))
	return a, nil
}

// Run serves until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.httpServer.Run(gctx)
	})
	if a.tracker != nil {
		g.Go(func() error {
			return a.tracker.Run(gctx)
		})
	}
	if a.webhook != nil {
		g.Go(func() error {
			a.webhook.Run(gctx)
			return nil
		})
	}
	err := g.Wait()
	for _, e := range a.engines {
		e.Close()
	}
	return err
}

// Close releases resources.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
