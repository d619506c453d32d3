// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
	WSAllowedOrigins     []string      // empty = allow all
	RateLimitRPS         int           // per-IP requests/second on write routes
}

// DBConfig holds ledger storage settings.
type DBConfig struct {
	Driver          string        // "postgres" | "memory"
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
	MigrationsDir   string        // default "migrations"
}

// RedisConfig holds the optional Redis connection used for the oracle cache
// and the cross-process event bus. Addr "" disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string // pub/sub channel for market events
}

// OracleConfig holds price-feed settings.
type OracleConfig struct {
	DexScreenerURL string        // default "https://api.dexscreener.com"
	CoinGeckoURL   string        // default "https://api.coingecko.com"
	CoinGeckoKey   string        // optional demo/pro API key
	FetchTimeout   time.Duration // default 5s
	CacheTTL       time.Duration // default 15s
}

// LifecycleConfig controls the periodic close/resolve ticker.
type LifecycleConfig struct {
	TickSpec          string        // cron spec, default "@every 5s"
	Concurrency       int           // markets processed in parallel per tick
	MaxOracleFailures int           // consecutive misses before auto-cancel; 0 = never
	BackoffBase       time.Duration // delay after the first miss
	BackoffMax        time.Duration // ceiling for the exponential backoff
}

// TradingConfig holds trade execution settings.
type TradingConfig struct {
	MaxRetries   int     // attempts on ConcurrencyConflict
	MinAmountPts float64 // smallest accepted trade
}

// WalletConfig holds points wallet settings.
type WalletConfig struct {
	StartingPoints float64       // balance of a newly created wallet
	FaucetAmount   float64       // points per faucet claim
	FaucetCooldown time.Duration // default 24h
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Oracle    OracleConfig
	Lifecycle LifecycleConfig
	Trading   TradingConfig
	Wallet    WalletConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// UsesPostgres returns true when the ledger is backed by PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.DB.Driver == "postgres"
}

// Validate checks that all required configuration values are present and valid.
// Every problem is reported, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Driver {
	case "postgres":
		if c.IsProd() && os.Getenv("DATABASE_DSN") == "" {
			errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
		}
	case "memory":
		if c.IsProd() {
			errs = append(errs, errors.New("LEDGER_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_DRIVER must be postgres or memory, got %q", c.DB.Driver))
	}

	if c.Lifecycle.TickSpec == "" {
		errs = append(errs, errors.New("LIFECYCLE_TICK_SPEC must not be empty"))
	}
	if c.Lifecycle.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("LIFECYCLE_CONCURRENCY must be >= 1, got %d", c.Lifecycle.Concurrency))
	}
	if c.Lifecycle.MaxOracleFailures < 0 {
		errs = append(errs, fmt.Errorf("LIFECYCLE_MAX_ORACLE_FAILURES must be >= 0, got %d", c.Lifecycle.MaxOracleFailures))
	}
	if c.Lifecycle.BackoffBase <= 0 || c.Lifecycle.BackoffMax < c.Lifecycle.BackoffBase {
		errs = append(errs, fmt.Errorf(
			"oracle backoff must satisfy 0 < base <= max, got base=%s max=%s",
			c.Lifecycle.BackoffBase, c.Lifecycle.BackoffMax,
		))
	}

	if c.Trading.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("TRADING_MAX_RETRIES must be >= 1, got %d", c.Trading.MaxRetries))
	}
	if c.Trading.MinAmountPts < 0 {
		errs = append(errs, fmt.Errorf("TRADING_MIN_AMOUNT must be >= 0, got %.4f", c.Trading.MinAmountPts))
	}
	if c.Wallet.StartingPoints < 0 || c.Wallet.FaucetAmount < 0 {
		errs = append(errs, errors.New("WALLET_STARTING_POINTS and WALLET_FAUCET_AMOUNT must be >= 0"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails. Call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// Defaults returns a Config with every default applied and no environment
// lookups. Tests build on it.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			BackofficePort: "8081",
			Env:            "development",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			RateLimitRPS:   10,
		},
		DB: DBConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
			MigrationsDir:   "migrations",
		},
		Redis: RedisConfig{
			Channel: "pointsmarket:events",
		},
		Oracle: OracleConfig{
			DexScreenerURL: "https://api.dexscreener.com",
			CoinGeckoURL:   "https://api.coingecko.com",
			FetchTimeout:   5 * time.Second,
			CacheTTL:       15 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			TickSpec:    "@every 5s",
			Concurrency: 4,
			BackoffBase: 10 * time.Second,
			BackoffMax:  10 * time.Minute,
		},
		Trading: TradingConfig{
			MaxRetries: 3,
		},
		Wallet: WalletConfig{
			StartingPoints: 1000,
			FaucetAmount:   100,
			FaucetCooldown: 24 * time.Hour,
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads an optional .env file and then the process environment on top
// of Defaults(). The result is not validated.
func Load() (*Config, error) {
	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	cfg := Defaults()
	var err error

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.BackofficePort = getEnv("BACKOFFICE_PORT", cfg.Server.BackofficePort)
	cfg.Server.Env = getEnv("ENVIRONMENT", cfg.Server.Env)
	cfg.Server.ReadTimeout = getDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.BackofficeAllowedIPs = getEnv("BACKOFFICE_ALLOWED_IPS", "")
	cfg.Server.WSAllowedOrigins = getList("WS_ALLOWED_ORIGINS")
	if cfg.Server.RateLimitRPS, err = getInt("RATE_LIMIT_RPS", cfg.Server.RateLimitRPS); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_RPS: %w", err)
	}

	// ── Database ──────────────────────────────────────────────────────────────
	cfg.DB.Driver = strings.ToLower(getEnv("LEDGER_DRIVER", cfg.DB.Driver))
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "pointsmarket"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}
	cfg.DB.DSN = dsn
	if cfg.DB.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", cfg.DB.MaxOpenConns); err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	if cfg.DB.MaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", cfg.DB.MaxIdleConns); err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}
	cfg.DB.ConnMaxLifetime = getDuration("DB_CONN_MAX_LIFETIME", cfg.DB.ConnMaxLifetime)
	cfg.DB.MigrationsDir = getEnv("DB_MIGRATIONS_DIR", cfg.DB.MigrationsDir)

	// ── Redis ─────────────────────────────────────────────────────────────────
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.Channel = getEnv("REDIS_EVENTS_CHANNEL", cfg.Redis.Channel)
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}

	// ── Oracle ────────────────────────────────────────────────────────────────
	cfg.Oracle.DexScreenerURL = getEnv("ORACLE_DEXSCREENER_URL", cfg.Oracle.DexScreenerURL)
	cfg.Oracle.CoinGeckoURL = getEnv("ORACLE_COINGECKO_URL", cfg.Oracle.CoinGeckoURL)
	cfg.Oracle.CoinGeckoKey = getEnv("ORACLE_COINGECKO_API_KEY", "")
	cfg.Oracle.FetchTimeout = getDuration("ORACLE_FETCH_TIMEOUT", cfg.Oracle.FetchTimeout)
	cfg.Oracle.CacheTTL = getDuration("ORACLE_CACHE_TTL", cfg.Oracle.CacheTTL)

	// ── Lifecycle ─────────────────────────────────────────────────────────────
	cfg.Lifecycle.TickSpec = getEnv("LIFECYCLE_TICK_SPEC", cfg.Lifecycle.TickSpec)
	if cfg.Lifecycle.Concurrency, err = getInt("LIFECYCLE_CONCURRENCY", cfg.Lifecycle.Concurrency); err != nil {
		return nil, fmt.Errorf("LIFECYCLE_CONCURRENCY: %w", err)
	}
	if cfg.Lifecycle.MaxOracleFailures, err = getInt("LIFECYCLE_MAX_ORACLE_FAILURES", 0); err != nil {
		return nil, fmt.Errorf("LIFECYCLE_MAX_ORACLE_FAILURES: %w", err)
	}
	cfg.Lifecycle.BackoffBase = getDuration("LIFECYCLE_BACKOFF_BASE", cfg.Lifecycle.BackoffBase)
	cfg.Lifecycle.BackoffMax = getDuration("LIFECYCLE_BACKOFF_MAX", cfg.Lifecycle.BackoffMax)

	// ── Trading ───────────────────────────────────────────────────────────────
	if cfg.Trading.MaxRetries, err = getInt("TRADING_MAX_RETRIES", cfg.Trading.MaxRetries); err != nil {
		return nil, fmt.Errorf("TRADING_MAX_RETRIES: %w", err)
	}
	if cfg.Trading.MinAmountPts, err = getFloat("TRADING_MIN_AMOUNT", 0); err != nil {
		return nil, fmt.Errorf("TRADING_MIN_AMOUNT: %w", err)
	}

	// ── Wallet ────────────────────────────────────────────────────────────────
	if cfg.Wallet.StartingPoints, err = getFloat("WALLET_STARTING_POINTS", cfg.Wallet.StartingPoints); err != nil {
		return nil, fmt.Errorf("WALLET_STARTING_POINTS: %w", err)
	}
	if cfg.Wallet.FaucetAmount, err = getFloat("WALLET_FAUCET_AMOUNT", cfg.Wallet.FaucetAmount); err != nil {
		return nil, fmt.Errorf("WALLET_FAUCET_AMOUNT: %w", err)
	}
	cfg.Wallet.FaucetCooldown = getDuration("WALLET_FAUCET_COOLDOWN", cfg.Wallet.FaucetCooldown)

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Log warning and fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}

// getList splits a comma-separated env var, dropping empty entries.
func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
