package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/gestion-vehicule/gestion_vehicule/internal/config"
	"github.com/gestion-vehicule/gestion_vehicule/internal/infra"
	"github.com/gestion-vehicule/gestion_vehicule/internal/logging"
	"github.com/gestion-vehicule/gestion_vehicule/internal/metrics"
	"github.com/gestion-vehicule/gestion_vehicule/internal/notification"
	"github.com/gestion-vehicule/gestion_vehicule/internal/routes"
	"github.com/gestion-vehicule/gestion_vehicule/internal/server"
	"github.com/gestion-vehicule/gestion_vehicule/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewForEnv(cfg.LogLevel, cfg.AppName, cfg.AppEnv)

	ctx := context.Background()

	if cfg.AutoMigrate {
		if err := infra.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Error("run migrations", "error", err)
			os.Exit(1)
		}
	}

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{
		MaxConns:       cfg.DBMaxConns,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL, cfg.ConnectTimeout)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	notifier := notification.Fanout{
		notification.NewLoggerNotifier(logger),
		notification.NewRedisNotifier(cache),
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := notification.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("close kafka writer", "error", err)
			}
		}()
		notifier = append(notifier, kafka)
	}

	chains, closeChains, err := wallet.DialChains(ctx, cfg.RPCURLs, logger)
	if err != nil {
		logger.Error("dial chains", "error", err)
		os.Exit(1)
	}
	defer closeChains()

	srv, err := server.New(routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Cache:    cache,
		Logger:   logger,
		Metrics:  metrics.New(),
		Notifier: notifier,
		Chains:   chains,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
