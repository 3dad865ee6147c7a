package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "postavka:Loc1|R1:current", []byte(`{"status":"created"}`), time.Minute))

	b, ok, err := c.Get(ctx, "postavka:Loc1|R1:current")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"status":"created"}`), b)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	key := SecondKey("rl:tg", time.Now())

	ok, n, err := rl.Allow(ctx, key, 2, 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, key, 2, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, key, 2, 2*time.Second)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestSecondKey(t *testing.T) {
	at := time.Date(2025, 9, 1, 12, 30, 45, 0, time.UTC)
	require.Equal(t, "rl:tg:20250901123045", SecondKey("rl:tg", at))
}
