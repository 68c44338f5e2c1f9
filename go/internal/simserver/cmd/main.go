package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/roundclient/go/internal/dbconfig"
	"github.com/mcdev12/roundclient/go/internal/simserver"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := simserver.DefaultConfig()
	if v := os.Getenv("SIM_START_BALANCE"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.StartBalance = d
		}
	}
	cfg.DefaultWinRate = getEnvAsInt("SIM_WIN_RATE", cfg.DefaultWinRate)
	cfg.SweepGrace = getEnvAsDuration("SIM_SWEEP_GRACE", cfg.SweepGrace)

	// Users 1..SIM_USERS start with the configured balance.
	balances := make(map[int64]decimal.Decimal)
	for id := 1; id <= getEnvAsInt("SIM_USERS", 1); id++ {
		balances[int64(id)] = cfg.StartBalance
	}

	repo, closeRepo, err := setupRepository(ctx, cfg, balances)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up repository")
	}
	defer closeRepo()

	var publisher simserver.Publisher
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		mirrorCfg := simserver.DefaultMirrorConfig()
		mirrorCfg.URL = natsURL
		mirror, err := simserver.NewEventMirror(ctx, mirrorCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start event mirror")
		}
		defer func() {
			if err := mirror.Close(); err != nil {
				log.Error().Err(err).Msg("close event mirror")
			}
		}()
		publisher = mirror
	}

	hub := simserver.NewConnectionManager(simserver.DefaultConnectionConfig())
	service := simserver.NewService(cfg, repo, clockwork.NewRealClock(), nil, hub, publisher, nil)

	port := getEnv("SIM_PORT", "5500")
	server := simserver.NewHTTPServer(fmt.Sprintf(":%s", port), service)

	go hub.Start(ctx)

	errCh := make(chan error, 2)
	go func() {
		errCh <- service.Run(ctx)
	}()
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("simulator exited unexpectedly")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("simulator shutdown complete")
}

// setupRepository uses Postgres when SIM_STORAGE=postgres and memory otherwise.
func setupRepository(ctx context.Context, cfg simserver.Config, balances map[int64]decimal.Decimal) (simserver.Repository, func(), error) {
	if getEnv("SIM_STORAGE", "memory") != "postgres" {
		log.Info().Int("users", len(balances)).Msg("using in-memory storage")
		return simserver.NewMemoryRepository(simserver.DefaultPairs, balances, cfg.DefaultWinRate), func() {}, nil
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	poolCfg, err := dbCfg.PoolConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := simserver.NewPostgresRepository(pool, cfg.DefaultWinRate)
	if err := repo.Migrate(ctx, simserver.DefaultPairs, balances); err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to database")
	return repo, pool.Close, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
