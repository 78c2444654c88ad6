// Package redissink publishes canonical candles to a Redis channel per
// (symbol, timeframe) for hot-tier fan-out consumers, and doubles as a
// read-through cache for warmup (see internal/warmup), using
// redis/go-redis/v9.
package redissink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

// Sink publishes each candle as JSON to "candles.<symbol>.<timeframe>".
type Sink struct {
	Addr string

	client *redis.Client
}

func New(addr string) *Sink {
	return &Sink{Addr: addr}
}

func (s *Sink) Name() string { return "redis" }

func (s *Sink) Connect(ctx context.Context) error {
	s.client = redis.NewClient(&redis.Options{Addr: s.Addr})
	return s.client.Ping(ctx).Err()
}

func channel(c candle.Candle) string {
	return fmt.Sprintf("candles.%s.%s", c.Symbol, c.TF)
}

func (s *Sink) Emit(ctx context.Context, c candle.Candle) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redissink: marshal: %w", err)
	}
	return s.client.Publish(ctx, channel(c), payload).Err()
}

func (s *Sink) EmitBulk(ctx context.Context, cs []candle.Candle) error {
	pipe := s.client.Pipeline()
	for _, c := range cs {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("redissink: marshal: %w", err)
		}
		pipe.Publish(ctx, channel(c), payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Sink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// cacheKey returns the warmup cache entry's key for (symbol, tf), distinct
// from the publish channel name so cached snapshots and live fan-out never
// collide on the same Redis key.
func cacheKey(symbol string, tf timeframe.Timeframe) string {
	return fmt.Sprintf("candlestream.warmup.%s.%s", symbol, tf)
}

// CacheRecent returns the cached recent-candle slice for (symbol, tf), or
// (nil, nil) on a cache miss. Satisfies warmup.Cache, letting warmup skip a
// REST round-trip when a previous warmup already populated this key within
// its TTL.
func (s *Sink) CacheRecent(ctx context.Context, symbol string, tf timeframe.Timeframe) ([]candle.Candle, error) {
	payload, err := s.client.Get(ctx, cacheKey(symbol, tf)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redissink: cache get: %w", err)
	}
	var cs []candle.Candle
	if err := json.Unmarshal(payload, &cs); err != nil {
		return nil, fmt.Errorf("redissink: cache decode: %w", err)
	}
	return cs, nil
}

// SetCacheRecent writes cs to the warmup cache for (symbol, tf) with ttl,
// satisfying warmup.Cache.
func (s *Sink) SetCacheRecent(ctx context.Context, symbol string, tf timeframe.Timeframe, cs []candle.Candle, ttl time.Duration) error {
	payload, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("redissink: cache encode: %w", err)
	}
	return s.client.Set(ctx, cacheKey(symbol, tf), payload, ttl).Err()
}
