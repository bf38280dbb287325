// Package testutils provides shared helpers for database backed tests.
package testutils

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oromail/listd/config"
	"github.com/oromail/listd/db"
)

// SetupTestDatabase connects to the PostgreSQL instance named by the
// LISTD_TEST_DATABASE environment variable (host or host:port) and applies
// the schema. Tests calling it are skipped in short mode and when the
// variable is unset.
//
// LISTD_TEST_DATABASE_USER, LISTD_TEST_DATABASE_PASSWORD and
// LISTD_TEST_DATABASE_NAME override the connection defaults.
func SetupTestDatabase(t *testing.T) *db.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database integration test in short mode")
	}
	host := os.Getenv("LISTD_TEST_DATABASE")
	if host == "" {
		t.Skip("Skipping database integration test, LISTD_TEST_DATABASE not set")
	}

	cfg := &config.DatabaseConfig{
		Write: &config.DatabaseEndpointConfig{
			Hosts:    []string{host},
			User:     envOr("LISTD_TEST_DATABASE_USER", "postgres"),
			Password: os.Getenv("LISTD_TEST_DATABASE_PASSWORD"),
			Name:     envOr("LISTD_TEST_DATABASE_NAME", "listd_test"),
		},
	}

	database, err := db.NewDatabaseFromConfig(context.Background(), cfg)
	require.NoError(t, err, "Failed to connect to test database at %s", host)
	t.Cleanup(database.Close)
	return database
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
