package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnImril/hellgate-ws/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres store test in short mode")
	}

	ctx := context.Background()
	dsn := testutil.SetupTestDB(t)

	require.NoError(t, RunMigrations(ctx, dsn))
	// Migrations must be idempotent across restarts.
	require.NoError(t, RunMigrations(ctx, dsn))

	store, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	// Missing key
	_, ok, err := store.Get(ctx, "games")
	require.NoError(t, err)
	assert.False(t, ok)

	// Put then get, binary-safe payload
	payload := []byte{0x00, 0xFF, '{', '}', 0x01}
	require.NoError(t, store.Put(ctx, "games", payload))

	v, ok, err := store.Get(ctx, "games")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, v)

	// Upsert replaces
	require.NoError(t, store.Put(ctx, "games", []byte("second")))
	v, ok, err = store.Get(ctx, "games")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), v)

	// Keys are independent
	require.NoError(t, store.Put(ctx, "other", []byte("x")))
	v, ok, err = store.Get(ctx, "games")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), v)
}
