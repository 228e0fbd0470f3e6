package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/codeclash/codeclash-server/internal/api/handlers"
	"github.com/codeclash/codeclash-server/internal/api/middleware"
	"github.com/codeclash/codeclash-server/internal/battle"
	"github.com/codeclash/codeclash-server/internal/config"
	"github.com/codeclash/codeclash-server/internal/repository"
	"github.com/codeclash/codeclash-server/internal/service"
	"github.com/codeclash/codeclash-server/internal/websocket"
)

func NewRouter(services *service.Services, engine *battle.Engine, hub *websocket.Hub, repos *repository.Repositories, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.AllowedOrigins, ","),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	authHandler := handlers.NewAuthHandler(services.Auth)
	battleHandler := handlers.NewBattleHandler(engine, repos.Battle, services.Stats)
	userHandler := handlers.NewUserHandler(services.Stats)
	wsHandler := handlers.NewWebSocketHandler(hub, services.Auth)

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)

			// Protected auth routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(services.Auth))
				r.Get("/me", authHandler.Me)
				r.Put("/handle", authHandler.UpdateHandle)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(services.Auth))

			r.Route("/battles", func(r chi.Router) {
				r.Get("/", battleHandler.List)
				r.Get("/history", battleHandler.History)
				r.Get("/{roomId}", battleHandler.Get)
				r.Delete("/{roomId}", battleHandler.Delete)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/leaderboard", userHandler.Leaderboard)
				r.Get("/{id}/stats", userHandler.Stats)
			})
		})
	})

	// WebSocket endpoint (token auth via query parameter)
	r.Get("/ws", wsHandler.Handle)

	return r
}
