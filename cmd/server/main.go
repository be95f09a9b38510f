package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"arena-backend/internal/api"
	"arena-backend/internal/config"
	"arena-backend/internal/constants"
	fxmodules "arena-backend/internal/fx"
	"arena-backend/internal/gateway"
	"arena-backend/internal/match"
	"arena-backend/internal/matchmaking"
	"arena-backend/internal/metrics"
	"arena-backend/internal/middleware"
	"arena-backend/internal/server"
	"arena-backend/internal/service"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
		fx.Invoke(runGame),
	).Run()
}

// runGame owns the background loops: pairing, and the reconciler that re-applies
// ratings a failed store left behind. It is invoked after runServer so its stop hook
// runs first and sessions report while the database is still open.
func runGame(
	lc fx.Lifecycle,
	mm *matchmaking.Matchmaker,
	registry *match.Registry,
	results *service.ResultService,
	logger zerolog.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer func() { done <- struct{}{} }()
				mm.Run(ctx)
			}()
			go func() {
				defer func() { done <- struct{}{} }()
				reconcile(ctx, results, logger)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			for i := 0; i < cap(done); i++ {
				select {
				case <-done:
				case <-stopCtx.Done():
					return stopCtx.Err()
				}
			}
			logger.Info().Int("active_sessions", registry.Count()).Msg("stopping match sessions")
			return registry.Shutdown(stopCtx)
		},
	})
}

func reconcile(ctx context.Context, results *service.ResultService, logger zerolog.Logger) {
	ticker := time.NewTicker(constants.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := results.Reconcile(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("rating reconciliation failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("matches", n).Msg("reconciled unrated matches")
			}
		}
	}
}

func runServer(
	lc fx.Lifecycle,
	arenaServer *server.ArenaServer,
	gatewayServer *gateway.Server,
	m *metrics.Metrics,
	cfg *config.Config,
	db *sql.DB,
	rdb redis.UniversalClient,
	identity *api.IdentityClient,
	logger zerolog.Logger,
) {
	router := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	requestIDMiddleware := middleware.RequestID(logger)

	path, handler := arenaServer.Handler()
	router.PathPrefix(path).Handler(requestIDMiddleware(c.Handler(handler)))

	router.Handle("/ws", requestIDMiddleware(gatewayServer)).Methods(http.MethodGet)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.Handle("/healthz", server.HealthHandler(db, identity)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: middleware.Recover(logger)(router),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}

			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis connection")
			}
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
