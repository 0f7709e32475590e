package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/gestion-vehicule/gestion_vehicule/internal/balance"
	"github.com/gestion-vehicule/gestion_vehicule/internal/config"
	"github.com/gestion-vehicule/gestion_vehicule/internal/funding"
	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/metrics"
	"github.com/gestion-vehicule/gestion_vehicule/internal/middleware"
	"github.com/gestion-vehicule/gestion_vehicule/internal/notification"
	"github.com/gestion-vehicule/gestion_vehicule/internal/payments"
	"github.com/gestion-vehicule/gestion_vehicule/internal/rewards"
	"github.com/gestion-vehicule/gestion_vehicule/internal/settlement"
	"github.com/gestion-vehicule/gestion_vehicule/internal/transfers"
	"github.com/gestion-vehicule/gestion_vehicule/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Notifier notification.Notifier
	Chains   map[string]wallet.BalanceClient
}

// Services holds the ledger services built over one store.
type Services struct {
	Store     ledger.Store
	Balances  *balance.Service
	Payments  *payments.Service
	Funding   *funding.Service
	Transfers *transfers.Service
	Rewards   *rewards.Service
	Wallets   *wallet.Service
}

// NewServices builds every ledger service. Without a database the ledger lives in memory.
func NewServices(d Deps) (*Services, error) {
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewInMemory()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}
	var locker wallet.Locker
	if d.Cache != nil {
		locker = wallet.NewRedisLocker(d.Cache, time.Minute, d.Logger)
	}

	balances := balance.NewService(store, d.Logger, d.Metrics)
	fundingSvc, err := funding.NewService(store, balances, funding.StaticAcquirer{}, notifier, d.Logger, d.Metrics)
	if err != nil {
		return nil, err
	}
	return &Services{
		Store:     store,
		Balances:  balances,
		Payments:  payments.NewService(store, balances, settlement.NewDispatcher(d.Logger, d.Metrics), notifier, d.Logger, d.Metrics),
		Funding:   fundingSvc,
		Transfers: transfers.NewService(store, balances, notifier, d.Logger, d.Metrics),
		Rewards:   rewards.NewService(store, balances, notifier, d.Logger, d.Metrics, rewards.LoadLocation(d.Cfg.RewardTimezone)),
		Wallets:   wallet.NewService(store, balances, d.Chains, locker, d.Logger, d.Metrics),
	}, nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Cfg.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	svc, err := NewServices(d)
	if err != nil {
		return err
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	api := app.Group("/api/v1", middleware.JWTAuth(d.Cfg.JWTSecret))
	if d.Cache != nil {
		api.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"user_id":    middleware.UserID(c),
			"request_id": middleware.RequestIDFromContext(c.UserContext()),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	admin := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleSystem)

	RegisterBalanceRoutes(api, balance.NewHandler(svc.Balances))
	RegisterPaymentRoutes(api, payments.NewHandler(svc.Payments), admin)
	RegisterFundingRoutes(api, funding.NewHandler(svc.Funding), admin)
	RegisterTransferRoutes(api, transfers.NewHandler(svc.Transfers),
		middleware.RateLimit(d.Cache, "transfer", d.Cfg.TransferRateLimit))
	RegisterWalletRoutes(api, wallet.NewHandler(svc.Wallets))
	RegisterRewardRoutes(api, rewards.NewHandler(svc.Rewards), admin)

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
