// Command walletsync refreshes the cached external balance of every active chain wallet on a
// fixed interval. Several replicas may run; a Redis lock keeps one sync per network at a time.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gestion-vehicule/gestion_vehicule/internal/balance"
	"github.com/gestion-vehicule/gestion_vehicule/internal/config"
	"github.com/gestion-vehicule/gestion_vehicule/internal/infra"
	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/logging"
	"github.com/gestion-vehicule/gestion_vehicule/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewForEnv(cfg.LogLevel, cfg.AppName+"-walletsync", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	chains, closeChains, err := wallet.DialChains(ctx, cfg.RPCURLs, logger)
	if err != nil {
		logger.Error("dial chains", "error", err)
		os.Exit(1)
	}
	defer closeChains()
	if len(chains) == 0 {
		logger.Warn("no rpc urls configured, nothing to sync")
	}

	store := ledger.NewPostgresStore(db)
	svc := wallet.NewService(store, balance.NewService(store, logger, nil), chains,
		wallet.NewRedisLocker(cache, cfg.WalletSyncInterval+time.Minute, logger), logger, nil)

	wallet.NewPoller(svc, cfg.WalletSyncInterval, logger).Run(ctx)
}
