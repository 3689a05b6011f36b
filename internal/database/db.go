package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"appliance-license/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN builds the libpq style connection string for cfg
func (cfg Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.DatabaseContext("connect", "").Info("Connected to PostgreSQL", "database", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.DatabaseContext("close", "").Info("Database connection closed")
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS issued_licenses (
		id UUID PRIMARY KEY,
		system_serial VARCHAR(16) NOT NULL,
		system_serial_ha VARCHAR(16) NOT NULL DEFAULT '',
		model VARCHAR(16) NOT NULL DEFAULT '',
		contract_type VARCHAR(32) NOT NULL,
		contract_hardware VARCHAR(32) NOT NULL,
		contract_software VARCHAR(32) NOT NULL,
		contract_start DATE NOT NULL,
		contract_end DATE NOT NULL,
		customer_name VARCHAR(32) NOT NULL DEFAULT '',
		features JSONB NOT NULL DEFAULT '[]',
		license_key TEXT NOT NULL,
		issued_by VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_issued_licenses_serial ON issued_licenses(system_serial, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_issued_licenses_type ON issued_licenses(contract_type)`,
	`CREATE TABLE IF NOT EXISTS license_checks (
		id UUID PRIMARY KEY,
		system_serial VARCHAR(16) NOT NULL DEFAULT '',
		remote_addr VARCHAR(45) NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		error_code VARCHAR(32) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_license_checks_created ON license_checks(created_at)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	l := logging.DatabaseContext("migrate", "issued_licenses")
	l.Info("Running database migrations")

	for i, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	l.Info("Database migrations completed", "count", len(migrations))
	return nil
}

// HealthCheck pings the database within a short timeout
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}
