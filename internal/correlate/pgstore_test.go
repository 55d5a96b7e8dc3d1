package correlate_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/solventry/paysdk/internal/config"
	"github.com/solventry/paysdk/internal/correlate"
	"github.com/solventry/paysdk/internal/rail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPGStore(t *testing.T) *correlate.PGStore {
	t.Helper()
	if os.Getenv("PAYSDK_PG_TESTS") == "" {
		t.Skip("set PAYSDK_PG_TESTS=1 to run Postgres-backed store tests")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dbConfig := &config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            "testuser",
		Password:        "testpass",
		Name:            "testdb",
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	store, err := correlate.NewPGStore(ctx, dbConfig, logger)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func TestPGStore_RoundTrip(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()

	issued := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Put(ctx, correlate.Entry{
		Token:    "pg-token",
		Rail:     rail.PayPal,
		Context:  map[string]string{"flow": "authorize", "scopes": "email"},
		IssuedAt: issued,
	}))

	entry, err := store.Get(ctx, rail.PayPal)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "pg-token", entry.Token)
	assert.Equal(t, "authorize", entry.Context["flow"])
	assert.WithinDuration(t, issued, entry.IssuedAt, time.Second)

	// Re-issuing for the same rail supersedes the prior entry.
	require.NoError(t, store.Put(ctx, correlate.Entry{
		Token:    "pg-token-2",
		Rail:     rail.PayPal,
		IssuedAt: time.Now(),
	}))
	entry, err = store.Get(ctx, rail.PayPal)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "pg-token-2", entry.Token)

	require.NoError(t, store.Delete(ctx, rail.PayPal))
	entry, err = store.Get(ctx, rail.PayPal)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPGStore_DeleteOlderThan(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()

	for i, r := range []rail.Rail{rail.PayPal, rail.Venmo} {
		require.NoError(t, store.Put(ctx, correlate.Entry{
			Token:    fmt.Sprintf("token-%d", i),
			Rail:     r,
			IssuedAt: time.Now().Add(-time.Duration(i+1) * time.Hour),
		}))
	}

	removed, err := store.DeleteOlderThan(ctx, time.Now().Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := store.Get(ctx, rail.PayPal)
	require.NoError(t, err)
	assert.NotNil(t, remaining)
}
