// Copyright 2024-2026 Aiku AI

// Package store is the bridge's persistence layer: a small transactional
// key/value store for per-account state plus the durable set of processed
// appservice transaction ids.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/aiku/mautrix-mastodon/migrations"

	_ "modernc.org/sqlite"
)

// NewDB opens the SQLite database at dbPath and applies any pending
// migrations. SQLite does not support concurrent writers, so the pool is
// pinned to a single connection; this also serializes the cross-bot writes
// to shared state.
func NewDB(dbPath string, log zerolog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := applyMigrations(db, log); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Error closing database after migration failure")
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Database connected and migrations applied")
	return db, nil
}

func applyMigrations(db *sqlx.DB, log zerolog.Logger) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return err
	}

	log.Info().Msg("Database migrations applied")
	return nil
}
