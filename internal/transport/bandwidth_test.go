package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterDisabledByDefaultDoesNotBlock(t *testing.T) {
	l := NewLimiter()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Wait(ctx, 10*1024*1024))
}

func TestLimiterEnabledThrottlesThroughput(t *testing.T) {
	l := NewLimiter()
	l.SetLimit(1024) // 1 KiB/s

	start := time.Now()
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, 1024)) // first burst is free
	require.NoError(t, l.Wait(ctx, 1024)) // this one must wait for tokens to refill
	require.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiterSetLimitNonPositiveDisables(t *testing.T) {
	l := NewLimiter()
	l.SetLimit(1024)
	l.SetLimit(0)
	require.NoError(t, l.Wait(context.Background(), 10*1024*1024))
}
