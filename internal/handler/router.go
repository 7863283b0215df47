package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/middleware"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/session"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
)

// RouterConfig holds what the API router serves.
type RouterConfig struct {
	Sessions     *session.Manager
	Inbound      InboundProcessor
	Hub          Subscriber
	Backend      ConnectionChecker
	QuickReplies []string

	JWTSecret         string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Logger *logger.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	healthHandler := NewHealthHandler(cfg.Backend)
	conversationHandler := NewConversationHandler(cfg.Sessions, cfg.QuickReplies, log)
	messageHandler := NewMessageHandler(cfg.Sessions, cfg.Inbound, log)
	streamHandler := NewStreamHandler(cfg.Sessions, cfg.Hub, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Get("/stats", conversationHandler.Stats)
		r.Get("/quick-replies", conversationHandler.QuickReplies)
		r.Get("/stream", streamHandler.StreamInbox)

		r.With(middleware.RequireScope(middleware.ScopeInbound)).Post("/inbound", messageHandler.Inbound)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Delete("/selected", conversationHandler.Deselect)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/select", conversationHandler.Select)
				r.Post("/handoff", conversationHandler.RequestHandoff)
				r.Post("/complete-handoff", conversationHandler.CompleteHandoff)
				r.Post("/resolve", conversationHandler.Resolve)
				r.Post("/close", conversationHandler.Close)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)

				r.Get("/stream", streamHandler.Stream)
			})
		})
	})

	return r
}
