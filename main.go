package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bybit-tpsl-sync/config"
	"bybit-tpsl-sync/internal/api"
	"bybit-tpsl-sync/internal/auth"
	"bybit-tpsl-sync/internal/bybit"
	"bybit-tpsl-sync/internal/events"
	"bybit-tpsl-sync/internal/logging"
	"bybit-tpsl-sync/internal/service"
	"bybit-tpsl-sync/internal/store"
	"bybit-tpsl-sync/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LoggingConfig)
	ctx := context.Background()

	creds, err := resolveCredentials(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve exchange credentials")
	}

	gateway := bybit.NewClient(creds, baseURLFor(cfg.BybitConfig.Environment), cfg.BybitConfig.RateLimit, logger)

	refs, closeRedis := buildRefStore(cfg, logger)
	defer closeRedis()

	history, closeDB := buildHistoryStore(ctx, cfg, logger)
	defer closeDB()

	bus := events.NewEventBus()
	svc := service.New(gateway, refs, history, bus, logger)

	logger.Info().
		Str("environment", cfg.BybitConfig.Environment).
		Bool("server", cfg.ServerConfig.Enabled).
		Msg("Position protection synchronizer starting")

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		var jwtManager *auth.JWTManager
		if cfg.AuthConfig.Enabled {
			jwtManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration)
		}

		server = api.NewServer(api.ServerConfig{
			Port:            cfg.ServerConfig.Port,
			Host:            cfg.ServerConfig.Host,
			AllowedOrigins:  cfg.ServerConfig.AllowedOrigins,
			ReadTimeout:     time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
			WriteTimeout:    time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
			ShutdownTimeout: time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second,
			ProductionMode:  true,
		}, svc, bus, jwtManager, logger)

		go func() {
			if err := server.Start(); err != nil {
				logger.Fatal().Err(err).Msg("API server failed")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down")
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Error shutting down API server")
		}
	}
	logger.Info().Msg("Shutdown complete")
}

// resolveCredentials reads exchange credentials from Vault when enabled,
// otherwise from configuration.
func resolveCredentials(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (bybit.Credentials, error) {
	if !cfg.VaultConfig.Enabled {
		return bybit.Credentials{
			APIKey:    cfg.BybitConfig.APIKey,
			APISecret: cfg.BybitConfig.APISecret,
		}, nil
	}

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return bybit.Credentials{}, err
	}
	if err := vaultClient.Health(ctx); err != nil {
		return bybit.Credentials{}, err
	}

	creds, err := vaultClient.GetCredentials(ctx, cfg.BybitConfig.Environment)
	if err != nil {
		return bybit.Credentials{}, err
	}

	logger.Info().Str("environment", creds.Environment).Msg("Exchange credentials loaded from Vault")
	return bybit.Credentials{APIKey: creds.APIKey, APISecret: creds.APISecret}, nil
}

func baseURLFor(environment string) string {
	switch environment {
	case "mainnet":
		return bybit.MainnetURL
	case "demo":
		return bybit.DemoURL
	default:
		return bybit.TestnetURL
	}
}

func buildRefStore(cfg *config.Config, logger zerolog.Logger) (store.RefStore, func()) {
	if !cfg.RedisConfig.Enabled {
		logger.Warn().Msg("Redis disabled, ladder refs held in memory only")
		return store.NewMemoryRefStore(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
		PoolSize: cfg.RedisConfig.PoolSize,
	})
	return store.NewRedisRefStore(client, logger), func() { client.Close() }
}

func buildHistoryStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.HistoryStore, func()) {
	if !cfg.PostgresConfig.Enabled {
		logger.Warn().Msg("Postgres disabled, reconciliation history held in memory only")
		return store.NewMemoryHistory(), func() {}
	}

	db, err := store.NewDB(store.PostgresConfig{
		Host:     cfg.PostgresConfig.Host,
		Port:     cfg.PostgresConfig.Port,
		User:     cfg.PostgresConfig.User,
		Password: cfg.PostgresConfig.Password,
		Database: cfg.PostgresConfig.Database,
		SSLMode:  cfg.PostgresConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	return db, db.Close
}
