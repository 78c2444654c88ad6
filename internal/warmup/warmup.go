// Package warmup loads recent completed candles via the REST client and
// seeds a processor's buffers before a runner opens any live connection,
// satisfying the rule that aggregation without warmup is a configuration
// error.
package warmup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/processor"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

// Fetcher is the subset of a REST client warmup needs.
type Fetcher interface {
	FetchRecent(ctx context.Context, symbol string, tf timeframe.Timeframe) ([]candle.Candle, error)
}

// Cache is the optional read-through warmup cache contract a sink may
// satisfy (see internal/sink/redissink), letting a warmup within the TTL
// window skip the REST round-trip entirely. A nil Cache is always a miss.
type Cache interface {
	CacheRecent(ctx context.Context, symbol string, tf timeframe.Timeframe) ([]candle.Candle, error)
	SetCacheRecent(ctx context.Context, symbol string, tf timeframe.Timeframe, cs []candle.Candle, ttl time.Duration) error
}

// cacheTTL bounds how long a warmup cache entry is trusted before a fresh
// REST fetch is required; two base-timeframe buckets covers a reconnect
// loop without serving a snapshot stale enough to miss a new candle.
func cacheTTL(base timeframe.Timeframe) time.Duration {
	return 2 * time.Duration(approxSeconds(base)) * time.Second
}

// Config describes what to load before streaming starts.
type Config struct {
	Symbol  string
	Base    timeframe.Timeframe
	Targets []timeframe.Timeframe
}

// Validate checks, before any network call is made, that a symbol is set,
// the base timeframe is valid, and every target is a valid aggregation of
// the base.
func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("warmup: symbol is required")
	}
	if !timeframe.Valid(c.Base) {
		return fmt.Errorf("warmup: invalid base timeframe %q", c.Base)
	}
	for _, t := range c.Targets {
		if !timeframe.AggregationAllowed(t, c.Base) {
			return fmt.Errorf("warmup: target %q not a valid aggregation of base %q", t, c.Base)
		}
	}
	return nil
}

// approxSeconds mirrors the processor's calendar-timeframe approximation
// (see processor.targetSeconds) so warmup sizing and aggregation triggering
// agree on bucket duration.
func approxSeconds(tf timeframe.Timeframe) int64 {
	switch tf {
	case timeframe.W1:
		return 7 * 86400
	case timeframe.MN1:
		return 30 * 86400
	default:
		return timeframe.Seconds(tf)
	}
}

// Load makes one FetchRecent call (a single page of the exchange's most
// recent candles) and seeds proc via Warmup. minCandles is one full bucket
// of the largest aggregation target (or one base candle with no targets
// configured); a REST result shorter than that is logged as a warning and
// still used, and no further pages are fetched. When cache is non-nil, a
// cached snapshot that already meets minCandles short-circuits the REST
// fetch entirely; otherwise the REST result is written back to cache for
// the next warmup to reuse within cacheTTL.
func Load(ctx context.Context, f Fetcher, cfg Config, proc *processor.Processor, cache Cache) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	largest := cfg.Base
	for _, t := range cfg.Targets {
		if approxSeconds(t) > approxSeconds(largest) {
			largest = t
		}
	}

	minCandles := 1
	if largest != cfg.Base {
		minCandles = int(approxSeconds(largest)/approxSeconds(cfg.Base)) + 1
	}

	if cache != nil {
		cached, err := cache.CacheRecent(ctx, cfg.Symbol, cfg.Base)
		if err != nil {
			log.Warn().Err(err).Str("symbol", cfg.Symbol).Str("timeframe", string(cfg.Base)).
				Msg("warmup cache lookup failed, falling back to REST")
		} else if len(cached) >= minCandles {
			proc.Warmup(cached)
			return nil
		}
	}

	candles, err := f.FetchRecent(ctx, cfg.Symbol, cfg.Base)
	if err != nil {
		return fmt.Errorf("warmup: fetch recent for %s/%s: %w", cfg.Symbol, cfg.Base, err)
	}
	if len(candles) < minCandles {
		log.Warn().Str("symbol", cfg.Symbol).Str("timeframe", string(cfg.Base)).
			Int("got", len(candles)).Int("want", minCandles).
			Msg("warmup returned fewer candles than requested bucket coverage")
	}

	if cache != nil {
		if err := cache.SetCacheRecent(ctx, cfg.Symbol, cfg.Base, candles, cacheTTL(cfg.Base)); err != nil {
			log.Warn().Err(err).Str("symbol", cfg.Symbol).Str("timeframe", string(cfg.Base)).
				Msg("warmup cache write-back failed")
		}
	}

	proc.Warmup(candles)
	return nil
}

// CutoffFor returns the UTC-midnight-aligned start time warmup should cover,
// whichever is earlier: the start of the current UTC day, or enough history
// to cover one bucket of the largest target.
func CutoffFor(now time.Time, base, largest timeframe.Timeframe) time.Time {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	bucketStart := now.Add(-time.Duration(approxSeconds(largest)) * time.Second)
	if bucketStart.Before(dayStart) {
		return bucketStart
	}
	return dayStart
}
