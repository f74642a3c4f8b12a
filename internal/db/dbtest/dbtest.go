// Package dbtest connects repository tests to a real PostgreSQL instance.
//
// Tests run against Postgres only when DB_HOST_TEST is set; otherwise Open
// returns nil and callers skip.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/config"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/db"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Config builds the test connection settings. migrationsPath is relative to
// the calling package.
func Config(migrationsPath string) (config.PostgresConfig, bool) {
	host := os.Getenv("DB_HOST_TEST")
	if host == "" {
		return config.PostgresConfig{}, false
	}
	return config.PostgresConfig{
		Host:            host,
		Port:            env("DB_PORT_TEST", "5432"),
		User:            env("DB_USER_TEST", "postgres"),
		Password:        env("DB_PASSWORD_TEST", "postgres"),
		DBName:          env("DB_NAME_TEST", "storefront_test"),
		SSLMode:         env("DB_SSLMODE_TEST", "disable"),
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: 30 * time.Minute,
		MigrationsPath:  migrationsPath,
	}, true
}

// Open connects and migrates. It returns nil when no test database is
// configured.
func Open(migrationsPath string) *db.Postgres {
	cfg, ok := Config(migrationsPath)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := db.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("host", cfg.Host).Str("dbname", cfg.DBName).Msg("Failed to connect to test database")
	}
	if err := pg.ApplyMigrations(cfg); err != nil {
		pg.Close()
		log.Fatal().Err(err).Msg("Failed to migrate test database")
	}
	return pg
}

// Truncate empties the storefront tables before and after t.
func Truncate(t *testing.T, pg *db.Postgres) {
	t.Helper()

	truncate := func() {
		_, err := pg.Pool.Exec(context.Background(), "TRUNCATE TABLE order_items, orders, products")
		if err != nil {
			t.Fatalf("Failed to truncate tables: %v", err)
		}
	}
	truncate()
	t.Cleanup(truncate)
}
