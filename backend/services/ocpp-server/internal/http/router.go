package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/http/handlers"
	"ocppgate/backend/services/ocpp-server/internal/http/middleware"
)

// RouterDeps collects handler dependencies. Metrics and the admin handlers are optional.
type RouterDeps struct {
	OCPP                http.HandlerFunc
	Metrics             http.Handler
	CredentialsHandlers *handlers.CredentialsHandlers
	StationsHandlers    *handlers.StationsHandlers
	AuthMiddleware      func(http.Handler) http.Handler
	Logger              *zap.Logger
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger.Named("http")))

	r.Get("/health", handlers.Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	r.Get("/ocpp/{identity}", deps.OCPP)

	if deps.AuthMiddleware == nil {
		return r
	}
	r.Route("/api", func(api chi.Router) {
		api.Use(deps.AuthMiddleware)
		if deps.CredentialsHandlers != nil {
			api.Post("/credentials", deps.CredentialsHandlers.Add)
		}
		if deps.StationsHandlers != nil {
			api.Get("/stations", deps.StationsHandlers.List)
			api.Post("/stations/{identity}/calls/{action}", deps.StationsHandlers.Call)
		}
	})
	return r
}
