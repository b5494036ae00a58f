package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/marketcache/internal/domain/marketdata"
	"github.com/wonny/marketcache/internal/pkg/config"
)

func TestLastCloseEncoding(t *testing.T) {
	lp := marketdata.LatestPrice{Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Value: 184.25}

	b, err := encodeLastClose(lp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-01-03","close":184.25}`, string(b))

	got, err := decodeLastClose(b)
	require.NoError(t, err)
	assert.Equal(t, lp, got)

	_, err = decodeLastClose([]byte(`{"date":"yesterday","close":1}`))
	assert.Error(t, err)

	assert.Equal(t, "close:last:AAPL", lastCloseKey("AAPL"))
}

func TestRedisPublisher(t *testing.T) {
	// Skip if no redis available
	t.Skip("Integration test - requires Redis")

	ctx := context.Background()
	p, err := NewRedisPublisher(ctx, config.RedisConfig{Addr: "localhost:6379", TTL: time.Minute})
	require.NoError(t, err)
	defer p.Close()

	lp := marketdata.LatestPrice{Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Value: 184.25}
	require.NoError(t, p.PublishLatest(ctx, map[string]marketdata.LatestPrice{"AAPL": lp}))

	got, ok, err := p.LatestClose(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, lp, got)

	_, ok, err = p.LatestClose(ctx, "NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}
