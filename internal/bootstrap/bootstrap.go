// Package bootstrap opens the process-wide resources shared by the API and
// backoffice binaries: logger, ledger, Redis and the oracle.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/oracle"
	"github.com/evetabi/pointsmarket/internal/repository"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"
)

// NewLogger returns a JSON logger in production and a debug-level text
// logger everywhere else, and installs it as the slog default.
func NewLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler
	if cfg.IsProd() {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// OpenLedger returns the ledger selected by cfg.DB.Driver and a close func.
// The postgres ledger is migrated before it is returned.
func OpenLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Ledger, func() error, error) {
	if !cfg.UsesPostgres() {
		logger.Warn("using in-memory ledger; state is lost on restart")
		return repository.NewMemoryLedger(), func() error { return nil }, nil
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DB.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap.OpenLedger: connect: %w", err)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	logger.Info("database connected")

	if err = RunMigrations(ctx, db, cfg.DB.MigrationsDir, logger); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repository.NewPostgresLedger(db), db.Close, nil
}

// RunMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially. SQL files must be idempotent (IF NOT EXISTS).
func RunMigrations(ctx context.Context, db *sqlx.DB, dir string, logger *slog.Logger) error {
	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("bootstrap.RunMigrations: read %q: %w", f, err)
		}
		if _, err = db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("bootstrap.RunMigrations: exec %q: %w", f, err)
		}
		logger.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("bootstrap.RunMigrations: read dir %q: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// OpenRedis connects to cfg.Redis.Addr and pings it. It returns nil, nil
// when Redis is not configured.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("bootstrap.OpenRedis: ping: %w", err)
	}
	return rdb, nil
}

// NewOracle builds the oracle router, caching in Redis when rdb is set.
func NewOracle(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) *oracle.Router {
	var cache oracle.Cache
	if rdb != nil {
		cache = oracle.NewRedisCache(rdb)
	}
	return oracle.NewRouter(cfg.Oracle, cache, logger)
}
