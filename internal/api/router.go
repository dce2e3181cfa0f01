package api

import (
	"net/http"
	"time"

	"github.com/flashpay/pos-terminald/internal/actions"
	"github.com/flashpay/pos-terminald/internal/config"
	"github.com/flashpay/pos-terminald/internal/gateway"
	"github.com/flashpay/pos-terminald/internal/session"
	"github.com/flashpay/pos-terminald/internal/storage/sqlite"
	"github.com/flashpay/pos-terminald/internal/websocket"
	"github.com/flashpay/pos-terminald/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router is the local HTTP surface consumed by the terminal UI webview
type Router struct {
	handler  *Handler
	wsServer *websocket.Server
	logger   *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(
	reconciler *session.Reconciler,
	dispatcher *actions.Dispatcher,
	gatewayClient *gateway.Client,
	tokens *sqlite.TokenStorage,
	journal *sqlite.EventJournal,
	cfg *config.Config,
	log *logger.Logger,
	wsServer *websocket.Server,
) *Router {
	return &Router{
		handler:  NewHandler(reconciler, dispatcher, gatewayClient, tokens, journal, cfg, log),
		wsServer: wsServer,
		logger:   log.Named("api-router"),
	}
}

// Routes returns the HTTP routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Route("/api", func(api chi.Router) {
		api.Get("/health", r.handler.GetHealth)
		api.Get("/state", r.handler.GetState)
		api.Get("/rewards", r.handler.ListRewards)
		api.Get("/journal", r.handler.GetJournal)

		api.Post("/provision", r.handler.Provision)
		api.Delete("/provision", r.handler.Deprovision)

		api.Route("/sessions/{id}", func(s chi.Router) {
			s.Post("/face-scan", r.handler.SubmitFaceScan)
			s.Post("/reward", r.handler.SelectReward)
			s.Post("/redeem/select", r.handler.RedeemSelect)
			s.Post("/mode", r.handler.SelectMode)
		})
	})

	// WebSocket endpoint for state push to the UI
	router.Get("/ws", r.wsServer.HandleConnection)

	return router
}
