package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alim08/finql/pkg/logger"
	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
}

// Migrations holds all database migrations. Every statement is idempotent so
// a partially initialised database can be migrated again.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "Create reference data schema",
		UpSQL: `
			CREATE TABLE IF NOT EXISTS assets (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				wkn TEXT UNIQUE,
				isin TEXT UNIQUE,
				note TEXT
			);

			CREATE TABLE IF NOT EXISTS transactions (
				id BIGSERIAL PRIMARY KEY,
				trans_type TEXT NOT NULL,
				asset_id BIGINT REFERENCES assets(id),
				cash_amount DOUBLE PRECISION NOT NULL,
				cash_currency TEXT NOT NULL,
				cash_date DATE NOT NULL,
				related_trans BIGINT REFERENCES transactions(id),
				position DOUBLE PRECISION,
				note TEXT
			);

			CREATE TABLE IF NOT EXISTS ticker (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL,
				asset_id BIGINT NOT NULL REFERENCES assets(id),
				source TEXT NOT NULL,
				priority INTEGER NOT NULL,
				currency TEXT NOT NULL,
				factor DOUBLE PRECISION NOT NULL DEFAULT 1.0
			);

			CREATE TABLE IF NOT EXISTS quotes (
				id BIGSERIAL PRIMARY KEY,
				ticker_id BIGINT NOT NULL REFERENCES ticker(id),
				price DOUBLE PRECISION NOT NULL,
				time TIMESTAMP WITH TIME ZONE NOT NULL,
				volume DOUBLE PRECISION
			);

			CREATE TABLE IF NOT EXISTS rounding_digits (
				id SERIAL PRIMARY KEY,
				currency TEXT NOT NULL UNIQUE,
				digits INTEGER NOT NULL
			);
		`,
		DownSQL: `
			DROP TABLE IF EXISTS rounding_digits;
			DROP TABLE IF EXISTS quotes;
			DROP TABLE IF EXISTS ticker;
			DROP TABLE IF EXISTS transactions;
			DROP TABLE IF EXISTS assets;
		`,
	},
	{
		Version:     2,
		Description: "Add quote lookup indexes",
		UpSQL: `
			-- last-quote-before lookups filter by ticker name and scan time descending
			CREATE INDEX IF NOT EXISTS idx_ticker_name ON ticker(name);
			CREATE INDEX IF NOT EXISTS idx_ticker_asset_id ON ticker(asset_id);
			CREATE INDEX IF NOT EXISTS idx_quotes_ticker_time ON quotes(ticker_id, time DESC);
		`,
		DownSQL: `
			DROP INDEX IF EXISTS idx_quotes_ticker_time;
			DROP INDEX IF EXISTS idx_ticker_asset_id;
			DROP INDEX IF EXISTS idx_ticker_name;
		`,
	},
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int       `json:"version"`
	Applied     bool      `json:"applied"`
	AppliedAt   time.Time `json:"applied_at,omitempty"`
	Description string    `json:"description"`
}

// RunMigrations applies every migration not yet recorded in schema_migrations.
func (db *DB) RunMigrations(ctx context.Context) error {
	logger.Log.Info("starting database migrations")

	if _, err := db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range Migrations {
		if _, ok := applied[m.Version]; ok {
			logger.Log.Debug("migration already applied", zap.Int("version", m.Version))
			continue
		}

		logger.Log.Info("applying migration",
			zap.Int("version", m.Version),
			zap.String("description", m.Description))

		err := db.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
				m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
	}

	logger.Log.Info("database migrations completed")
	return nil
}

const createMigrationsTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`

// appliedMigrations maps applied versions to the time they were applied.
func (db *DB) appliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// GetMigrationStatus lists every known migration and whether it was applied.
func (db *DB) GetMigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, 0, len(Migrations))
	for _, m := range Migrations {
		at, ok := applied[m.Version]
		status = append(status, MigrationStatus{
			Version:     m.Version,
			Applied:     ok,
			AppliedAt:   at,
			Description: m.Description,
		})
	}
	return status, nil
}

// RollbackMigration reverts the most recently applied migration.
func (db *DB) RollbackMigration(ctx context.Context) error {
	var version int
	err := db.QueryRowContext(ctx,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	var migration *Migration
	for i := range Migrations {
		if Migrations[i].Version == version {
			migration = &Migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration version %d not found", version)
	}

	logger.Log.Info("rolling back migration",
		zap.Int("version", version),
		zap.String("description", migration.Description))

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if migration.DownSQL != "" {
			if _, err := tx.ExecContext(ctx, migration.DownSQL); err != nil {
				return fmt.Errorf("failed to execute rollback SQL: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version); err != nil {
			return fmt.Errorf("failed to remove migration record: %w", err)
		}
		return nil
	})
}
