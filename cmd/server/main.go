package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codeclash/codeclash-server/internal/api"
	"github.com/codeclash/codeclash-server/internal/battle"
	"github.com/codeclash/codeclash-server/internal/config"
	"github.com/codeclash/codeclash-server/internal/judge"
	"github.com/codeclash/codeclash-server/internal/matchmaking"
	"github.com/codeclash/codeclash-server/internal/repository/postgres"
	"github.com/codeclash/codeclash-server/internal/service"
	"github.com/codeclash/codeclash-server/internal/websocket"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	db, err := postgres.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	repos := postgres.NewRepositories(db)
	services := service.NewServices(repos, cfg)
	judgeClient := judge.NewCodeforcesClient(cfg.CodeforcesBaseURL)
	clock := clockwork.NewRealClock()

	hub := websocket.NewHub()
	engine := battle.NewEngine(battle.DefaultConfig(), repos.Battle, judgeClient, services.Score, hub, clock)
	queue := matchmaking.NewQueue(matchmaking.DefaultConfig(), engine, hub, clock)
	hub.SetEngine(engine)
	hub.SetQueue(queue)
	hub.SetUsers(repos.User)

	go hub.Run()
	queue.Start()

	router := api.NewRouter(services, engine, hub, repos, cfg)

	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	queue.Stop()
	hub.Stop()

	log.Info().Msg("server stopped")
}
