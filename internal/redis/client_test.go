package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Error(t, err)
	})

	t.Run("defaults applied", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		config := &Config{Address: mr.Addr()}
		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
		assert.NoError(t, client.Health())
	})
}

func TestClient_IncrementWithTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	t.Run("first hit sets window", func(t *testing.T) {
		count, err := client.IncrementWithTTL(ctx, "counter:a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		ttl, err := client.TTL(ctx, "counter:a")
		require.NoError(t, err)
		assert.Equal(t, time.Minute, ttl)
	})

	t.Run("later hits keep the original window", func(t *testing.T) {
		mr.FastForward(30 * time.Second)

		count, err := client.IncrementWithTTL(ctx, "counter:a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		ttl, err := client.TTL(ctx, "counter:a")
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, ttl)
	})

	t.Run("expired counter starts a fresh window", func(t *testing.T) {
		mr.FastForward(time.Minute)

		count, err := client.IncrementWithTTL(ctx, "counter:a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestClient_SetIfAbsent(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	created, err := client.SetIfAbsent(ctx, "block:a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, created)

	// A second set must not refresh or replace the record.
	created, err = client.SetIfAbsent(ctx, "block:a", time.Hour)
	require.NoError(t, err)
	assert.False(t, created)

	ttl, err := client.TTL(ctx, "block:a")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, ttl)

	mr.FastForward(11 * time.Second)

	ttl, err = client.TTL(ctx, "block:a")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestClient_TTL_MissingKey(t *testing.T) {
	client, _ := setupTestRedis(t)

	ttl, err := client.TTL(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)
}
