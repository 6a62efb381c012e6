package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Burst(t *testing.T) {
	l := NewLimiter(1, 2)

	assert.True(t, l.Allow("api.binance.com"))
	assert.True(t, l.Allow("api.binance.com"))
	assert.False(t, l.Allow("api.binance.com"))
}

func TestLimiter_HostsAreIndependent(t *testing.T) {
	l := NewLimiter(1, 1)

	assert.True(t, l.Allow("api.binance.com"))
	assert.True(t, l.Allow("data-api.binance.vision"))
	assert.False(t, l.Allow("api.binance.com"))
	assert.False(t, l.Allow("data-api.binance.vision"))
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := NewLimiter(0.1, 1)
	require.NoError(t, l.Wait(context.Background(), "api.mexc.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "api.mexc.com"))
}

func TestLimiter_ZeroRPSIsUnlimited(t *testing.T) {
	l := NewLimiter(0, 1)
	for i := 0; i < 50; i++ {
		require.True(t, l.Allow("contract.mexc.com"))
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	m.AddVenue("binance_spot", 1, 1)

	require.NoError(t, m.Wait(context.Background(), "binance_spot", "api.binance.com"))
	require.NoError(t, m.Wait(context.Background(), "unknown", "example.com"))

	stats := m.Stats()
	require.Contains(t, stats, "binance_spot")
	host := stats["binance_spot"]["api.binance.com"]
	assert.Equal(t, 1, host.Burst)
	assert.True(t, host.IsThrottled())
}
