package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, policy Policy) *Redis {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := NewRedisClient(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("skipping Redis integration tests: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	lim := NewRedis(client, policy)
	lim.prefix = "gthanks:test:" + uuid.NewString()
	return lim
}

func TestRedis_SlidingWindow(t *testing.T) {
	lim := newTestRedisLimiter(t, Policy{Max: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := lim.Check(ctx, ScopeReservationCreate, "user:alice|list-1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := lim.Check(ctx, ScopeReservationCreate, "user:alice|list-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	// Denials are not recorded, so the set still holds exactly Max admits.
	n, err := lim.client.(*redis.Client).ZCard(ctx, lim.prefix+":"+ScopeReservationCreate+":user:alice|list-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	d, err = lim.Check(ctx, ScopeReservationCreate, "user:bob|list-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedis_AdmitsAgainAfterWindow(t *testing.T) {
	lim := newTestRedisLimiter(t, Policy{Max: 2, Window: 300 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := lim.Check(ctx, "s", "k")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := lim.Check(ctx, "s", "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	time.Sleep(d.RetryAfter + 50*time.Millisecond)
	d, err = lim.Check(ctx, "s", "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestNewRedisClient(t *testing.T) {
	t.Parallel()

	c, err := NewRedisClient("redis://localhost:6390/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6390", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)

	c, err = NewRedisClient("cache:6379")
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", c.Options().Addr)

	_, err = NewRedisClient("")
	assert.Error(t, err)
}
