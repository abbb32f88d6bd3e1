package postgres_test

import (
	"os"
	"strconv"
	"testing"
	"time"

	"tickwrangler/config"
)

// testConfig returns the database used by the integration tests. They are
// skipped unless WRANGLER_PG_TEST is set.
func testConfig(t *testing.T) config.PostgresConfig {
	t.Helper()
	if os.Getenv("WRANGLER_PG_TEST") == "" {
		t.Skip("WRANGLER_PG_TEST not set")
	}

	port, _ := strconv.Atoi(os.Getenv("WRANGLER_PG_PORT"))
	if port == 0 {
		port = 5432
	}
	return config.PostgresConfig{
		Host:     envOr("WRANGLER_PG_HOST", "localhost"),
		Port:     port,
		User:     envOr("WRANGLER_PG_USER", "postgres"),
		Password: envOr("WRANGLER_PG_PASSWORD", "yourpw"),
		DBName:   envOr("WRANGLER_PG_DBNAME", "tickwrangler_test"),
		SSLMode:  "disable",
		TimeZone: "UTC",

		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 1 * time.Hour,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
