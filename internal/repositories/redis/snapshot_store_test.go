package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizesale/storefront/internal/platform/config"
	"github.com/wizesale/storefront/internal/repositories"
)

func setupStore(t *testing.T) (*SnapshotStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClient(config.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSnapshotStore(client, "storefront:"), mr
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "cart:42:s1", []byte(`[{"id":"p1","quantity":2}]`), time.Hour))

	raw, err := mr.Get("storefront:cart:42:s1")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"p1","quantity":2}]`, raw)
	assert.Equal(t, time.Hour, mr.TTL("storefront:cart:42:s1"))

	data, err := store.Load(ctx, "cart:42:s1")
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(data))
}

func TestSnapshotStore_LoadMissingIsNotFound(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.Load(context.Background(), "cart:42:missing")
	require.Error(t, err)
	assert.True(t, repositories.IsNotFound(err))
}

func TestSnapshotStore_Expiry(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "favoritedProducts:42:s1", []byte(`[]`), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, "favoritedProducts:42:s1")
	assert.True(t, repositories.IsNotFound(err))
}

func TestSnapshotStore_Delete(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "cart:1:s", []byte(`[]`), 0))
	require.NoError(t, store.Delete(ctx, "cart:1:s"))
	assert.False(t, mr.Exists("storefront:cart:1:s"))
	assert.NoError(t, store.Delete(ctx, "cart:1:s"))
}

func TestSnapshotStore_UnavailableBackend(t *testing.T) {
	store, mr := setupStore(t)
	mr.Close()

	err := store.Save(context.Background(), "cart:1:s", []byte(`[]`), 0)
	require.Error(t, err)

	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsUnavailable())
	assert.Error(t, store.Ping(context.Background()))
}

func TestSnapshotStore_AcceptsUniversalClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{mr.Addr()}})
	defer client.Close()

	store := NewSnapshotStore(client, "")
	require.NoError(t, store.Save(context.Background(), "k", []byte("v"), 0))
	assert.True(t, mr.Exists("k"))
}
