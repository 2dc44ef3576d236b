package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"omnichannel-backend/internal/database"
	"omnichannel-backend/internal/store"
	"omnichannel-backend/internal/store/storetest"
)

// TestPostgresStore runs against a real database when TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := &database.Database{Pool: pool}
	require.NoError(t, database.RunMigrations(ctx, db, zerolog.Nop()))

	storetest.Run(t, func(*testing.T) store.Store { return New(db) })
}
