package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 RPS with burst 1: the second call waits ~100ms.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://api.example.com/v1/browse/categories"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://api.example.com/v1/artists"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentHosts(t *testing.T) {
	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "host b blocked by host a")
}

func TestLimiter_DisabledWhenRateIsZero(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for range 100 {
		require.NoError(t, l.Wait(ctx, "https://api.example.com"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_PauseDelaysHost(t *testing.T) {
	l := New(Config{})
	l.Pause("https://api.example.com/v1/artists", 120*time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "https://api.example.com/v1/browse/categories"))
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(context.Background(), "https://other.example.com/"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_PauseRespectsContext(t *testing.T) {
	l := New(Config{})
	l.Pause("https://api.example.com", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://api.example.com/v1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
