package database

import (
	"context"
	"fmt"
	"time"

	"github.com/buscai/backend/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const connectTimeout = 10 * time.Second

// Open connects to Postgres and applies the pool settings. The caller owns
// the returned handle.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to %s@%s:%s/%s: %w", cfg.User, cfg.Host, cfg.Port, cfg.Name, err)
	}

	log.Printf("Database connection established (%s:%s/%s)", cfg.Host, cfg.Port, cfg.Name)
	return db, nil
}

// MustOpen is Open for startup code: it exits when Postgres is unreachable.
func MustOpen(cfg config.DatabaseConfig) *sqlx.DB {
	db, err := Open(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}
