// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/unclebandit/campaign-mailer/internal/config"
)

// Open connects to Postgres through lib/pq and verifies the connection.
func Open(ctx context.Context, cfg config.DBConfig, log *slog.Logger) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	log.Info("✅ Connected to database", slog.String("host", cfg.Host), slog.String("name", cfg.Name))
	return conn, nil
}
