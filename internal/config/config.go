package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName            = "GestionVehicule"
	defaultAppEnv             = "development"
	defaultPort               = "8080"
	defaultLogLevel           = "info"
	defaultShutdownDelay      = 10 * time.Second
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultWalletSyncInterval = 5 * time.Minute
	defaultKafkaTopic         = "ledger.notifications"
	defaultRewardTimezone     = "Africa/Abidjan"
	defaultTransferRateLimit  = 10
	defaultConnectTimeout     = 5 * time.Second
	idemTTLSecondsEnvVar      = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar          = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar     = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar    = "SHUTDOWN_TIMEOUT"
	walletSyncSecondsEnvVar   = "WALLET_SYNC_INTERVAL_SECONDS"
	walletSyncDurationEnvVar  = "WALLET_SYNC_INTERVAL"
	connectSecondsEnvVar      = "CONNECT_TIMEOUT_SECONDS"
	connectDurationEnvVar     = "CONNECT_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName            string
	AppEnv             string
	Port               string
	LogLevel           string
	DatabaseURL        string
	RedisURL           string
	ShutdownPeriod     time.Duration
	IdempotencyTTL     time.Duration
	JWTSecret          string
	AutoMigrate        bool
	KafkaBrokers       []string
	KafkaTopic         string
	RPCURLs            map[string]string
	WalletSyncInterval time.Duration
	RewardTimezone     string
	TransferRateLimit  int
	DBMaxConns         int32
	ConnectTimeout     time.Duration
}

// Load reads configuration values from the environment and populates a Config instance. A .env
// file in the working directory is read first when present; real environment variables win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		RewardTimezone: getEnv("REWARD_TIMEZONE", defaultRewardTimezone),
		RPCURLs:        map[string]string{},
	}

	for network, key := range map[string]string{"eth": "ETH_RPC_URL", "bsc": "BSC_RPC_URL", "polygon": "POLYGON_RPC_URL"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			cfg.RPCURLs[network] = v
		}
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.WalletSyncInterval, err = durationEnv(walletSyncSecondsEnvVar, walletSyncDurationEnvVar, defaultWalletSyncInterval); err != nil {
		return Config{}, err
	}

	if cfg.ConnectTimeout, err = durationEnv(connectSecondsEnvVar, connectDurationEnvVar, defaultConnectTimeout); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid DB_MAX_CONNS: %q", v)
		}
		cfg.DBMaxConns = int32(n)
	}

	if v := os.Getenv("AUTO_MIGRATE"); v != "" {
		if cfg.AutoMigrate, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid AUTO_MIGRATE: %w", err)
		}
	}

	cfg.TransferRateLimit = defaultTransferRateLimit
	if v := os.Getenv("TRANSFER_RATE_LIMIT"); v != "" {
		if cfg.TransferRateLimit, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid TRANSFER_RATE_LIMIT: %w", err)
		}
	}

	if _, err := time.LoadLocation(cfg.RewardTimezone); err != nil {
		return Config{}, fmt.Errorf("invalid REWARD_TIMEZONE: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads whole seconds from secondsKey, else a Go duration from durationKey.
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
