package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"crewchat/internal/pkg/auth/jwt"
	"crewchat/internal/pkg/limiter"
	"crewchat/internal/pkg/logx"
	"crewchat/internal/pkg/resp"
)

// NewRouter assembles the HTTP routes and middleware chain.
func NewRouter(deps *AppDeps) http.Handler {
	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(corsHandler.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]string{"status": "ok"})
	})

	// Handshakes are limited per IP; a reconnect storm from one client must not
	// starve the accept path for everyone else.
	wsLimiter := limiter.NewIPRateLimiter(1, 5)

	wsHandler := NewWSHandler(deps.Auth, deps.Hub, deps.Config.AllowedOrigins)
	r.With(wsLimiter.Middleware).Get("/ws", wsHandler.Serve)

	channelHandler := NewChannelHandler(deps.Coordinator)

	r.Route("/api", func(r chi.Router) {
		r.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		r.Route("/channels", func(r chi.Router) {
			r.Post("/join", channelHandler.Join)
			r.Post("/leave", channelHandler.Leave)
		})
	})

	return r
}
