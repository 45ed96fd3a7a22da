// Package postgres opens the single-connection pool the builder runs on.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripslake/lake/builder/pkg/config"
)

// ErrConnect wraps failures to reach the database.
var ErrConnect = errors.New("failed to connect to postgres")

const pingTimeout = 5 * time.Second

// Connect opens a pool capped at one connection and pings it. The builder
// issues one statement at a time, so a single connection keeps every unit
// on the same session.
func Connect(ctx context.Context, log *slog.Logger, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	log.Info("postgres: connecting",
		"addr", cfg.Addr(),
		"database", cfg.Database,
		"user", cfg.User,
		"sslmode", cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrConnect, err)
	}
	return connectPool(ctx, log, poolConfig)
}

// ConnectURL is Connect for a connection string.
func ConnectURL(ctx context.Context, log *slog.Logger, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrConnect, err)
	}
	return connectPool(ctx, log, poolConfig)
}

func connectPool(ctx context.Context, log *slog.Logger, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	poolConfig.MaxConns = 1
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create pool: %w", ErrConnect, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping: %w", ErrConnect, err)
	}

	log.Info("postgres: connected", "addr", fmt.Sprintf("%s:%d", poolConfig.ConnConfig.Host, poolConfig.ConnConfig.Port))
	return pool, nil
}
