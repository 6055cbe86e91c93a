package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRedis_Unreachable(t *testing.T) {
	_, err := OpenRedis("127.0.0.1:1")
	assert.Error(t, err, "opening unreachable redis should fail")
}

// TestRedis runs against the server in REDIS_ADDR
func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.FlushDB().Err())
	r := NewRedis(client)
	defer r.Close()
	ctx := context.Background()
	t0 := time.Date(2023, time.August, 16, 14, 48, 0, 0, time.UTC)

	require.NoError(t, r.Insert(ctx, "1.2.3.4", "a@x", "b@y", 0, t0))
	require.NoError(t, r.Insert(ctx, "1.2.3.4", "a@x", "b@y", 4, t0.Add(time.Hour)))
	tr, ok, err := r.Lookup(ctx, "1.2.3.4", "a@x", "b@y")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, tr.Count, "second insert shouldn't overwrite the record")
	assert.True(t, t0.Equal(tr.CreatedAt))

	require.NoError(t, r.Update(ctx, "1.2.3.4", "a@x", "b@y", 1, t0))
	require.NoError(t, r.CleanupUnseen(ctx, t0.Add(time.Hour)))
	_, ok, _ = r.Lookup(ctx, "1.2.3.4", "a@x", "b@y")
	assert.True(t, ok, "whitelisted triplet shouldn't be removed by unseen cleanup")

	require.NoError(t, r.CleanupAutoWhitelist(ctx, t0.Add(time.Hour)))
	_, ok, _ = r.Lookup(ctx, "1.2.3.4", "a@x", "b@y")
	assert.False(t, ok)
}
