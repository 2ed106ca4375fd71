package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freetalk/messaging/internal/middleware"
	"github.com/freetalk/messaging/pkg/logger"
)

// RouterConfig collects the handlers and limits served by the API router.
type RouterConfig struct {
	Auth          middleware.Authenticator
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Notifications *NotificationHandler
	Health        *HealthHandler
	// Gateway serves the push channel at /ws.
	Gateway http.Handler
	// Uploads serves stored media at /uploads/*. Optional.
	Uploads http.Handler

	AllowedOrigins    []string
	RequestTimeout    time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
	SendRateLimit     int
	SearchRateLimit   int

	Logger *logger.Logger
}

// NewRouter builds the HTTP surface of the service.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.Gateway != nil {
		r.Handle("/ws", cfg.Gateway)
	}
	if cfg.Uploads != nil {
		r.Handle("/uploads/*", http.StripPrefix("/uploads", cfg.Uploads))
	}

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}
		r.Use(middleware.Auth(cfg.Auth))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(middleware.RequireWritable)

		r.Route("/messages", func(r chi.Router) {
			conv, msgs := cfg.Conversations, cfg.Messages

			r.Get("/conversations", conv.List)
			r.Get("/unread-count", conv.UnreadCount)
			r.With(middleware.UserRateLimit("send", cfg.SendRateLimit, time.Minute)).Post("/", msgs.Send)
			r.Post("/typing", msgs.Typing)

			r.Route("/groups", func(r chi.Router) {
				r.Post("/", conv.CreateGroup)
				r.Route("/{id}", func(r chi.Router) {
					r.Use(middleware.ValidateIDs("id"))
					r.Put("/", conv.UpdateGroup)
					r.Post("/participants", conv.AddParticipant)
					r.Delete("/participants/{user}", conv.RemoveParticipant)
					r.Post("/admins/{user}", conv.PromoteAdmin)
					r.Delete("/admins/{user}", conv.DemoteAdmin)
				})
			})

			// The GET form takes the other user's id; the rest take a conversation id.
			r.Get("/conversation/{id}", conv.Direct)
			r.With(middleware.ValidateIDs("id")).Delete("/conversation/{id}", msgs.DeleteConversation)
			r.With(middleware.ValidateIDs("id")).Delete("/conversation/{id}/clear", msgs.Clear)
			r.With(middleware.ValidateIDs("id")).Patch("/conversation/{id}/archive", conv.Archive)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(middleware.ValidateIDs("id"))
				r.Get("/", msgs.Fetch)
				r.Delete("/", msgs.Delete)
				r.Patch("/read", msgs.MarkRead)
				r.Delete("/for-me", msgs.DeleteForMe)
				r.Delete("/for-everyone", msgs.DeleteForEveryone)
				r.Post("/react", msgs.React)
				r.Delete("/react", msgs.Unreact)
				r.With(middleware.UserRateLimit("search", cfg.SearchRateLimit, time.Minute)).Get("/search", msgs.Search)
				r.Get("/export", msgs.Export)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			n := cfg.Notifications
			r.Get("/", n.List)
			r.Delete("/", n.DeleteAll)
			r.Get("/unread-count", n.UnreadCount)
			r.Put("/read-all", n.MarkAllRead)
			r.With(middleware.ValidateIDs("id")).Put("/{id}/read", n.MarkRead)
			r.With(middleware.ValidateIDs("id")).Delete("/{id}", n.Delete)
		})
	})

	return r
}
