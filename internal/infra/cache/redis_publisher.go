package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wonny/marketcache/internal/domain/marketdata"
	"github.com/wonny/marketcache/internal/pkg/config"
)

// RedisPublisher writes the latest close of every ticker to Redis so
// downstream valuation can read it without loading the snapshot.
type RedisPublisher struct {
	rdb *redis.Client
	ttl time.Duration
}

type lastClose struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// NewRedisPublisher connects and pings Redis.
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("Redis connected")
	return &RedisPublisher{rdb: rdb, ttl: cfg.TTL}, nil
}

// Close closes the client.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// lastCloseKey is the key holding a ticker's latest close.
func lastCloseKey(ticker string) string { return "close:last:" + ticker }

func encodeLastClose(lp marketdata.LatestPrice) ([]byte, error) {
	return json.Marshal(lastClose{Date: lp.Date.Format("2006-01-02"), Close: lp.Value})
}

func decodeLastClose(b []byte) (marketdata.LatestPrice, error) {
	var lc lastClose
	if err := json.Unmarshal(b, &lc); err != nil {
		return marketdata.LatestPrice{}, err
	}
	d, err := time.Parse("2006-01-02", lc.Date)
	if err != nil {
		return marketdata.LatestPrice{}, err
	}
	return marketdata.LatestPrice{Date: d, Value: lc.Close}, nil
}

// PublishLatest implements marketdata.PricePublisher with one pipelined round trip.
func (p *RedisPublisher) PublishLatest(ctx context.Context, latest map[string]marketdata.LatestPrice) error {
	if len(latest) == 0 {
		return nil
	}

	pipe := p.rdb.Pipeline()
	for ticker, lp := range latest {
		b, err := encodeLastClose(lp)
		if err != nil {
			return fmt.Errorf("encode last close %s: %w", ticker, err)
		}
		pipe.Set(ctx, lastCloseKey(ticker), b, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish last closes: %w", err)
	}

	log.Debug().Int("tickers", len(latest)).Msg("Published latest closes")
	return nil
}

// LatestClose reads a ticker's published close. ok is false when none exists.
func (p *RedisPublisher) LatestClose(ctx context.Context, ticker string) (marketdata.LatestPrice, bool, error) {
	b, err := p.rdb.Get(ctx, lastCloseKey(ticker)).Bytes()
	if errors.Is(err, redis.Nil) {
		return marketdata.LatestPrice{}, false, nil
	}
	if err != nil {
		return marketdata.LatestPrice{}, false, fmt.Errorf("get last close %s: %w", ticker, err)
	}
	lp, err := decodeLastClose(b)
	if err != nil {
		return marketdata.LatestPrice{}, false, fmt.Errorf("decode last close %s: %w", ticker, err)
	}
	return lp, true, nil
}
