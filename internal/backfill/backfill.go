// Package backfill drives a ranged REST fetch into a sink fanout, parsing
// date literals (and the keyword "now") and reporting a fatal API error
// (IP ban) through a non-zero exit code rather than a panic or log.Fatal.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/rest"
	"github.com/cryptoedge/candlestream/internal/sink"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

// RangeFetcher is the subset of an exchange REST client backfill needs.
type RangeFetcher interface {
	FetchRange(ctx context.Context, symbol string, tf timeframe.Timeframe, from, to time.Time) (<-chan rest.Page, error)
}

// Config parameterizes one backfill run.
type Config struct {
	Exchange    string
	Symbol      string
	Timeframe   timeframe.Timeframe
	From        time.Time
	To          time.Time
	MarketType  string
	Transformer func(candle.Candle) map[string]any
}

// ParseDate parses a date literal as UTC midnight, or resolves the literal
// "now" to the current UTC second.
func ParseDate(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now.UTC().Truncate(time.Second), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("backfill: invalid date literal %q: %w", s, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// Run paginates [cfg.From, cfg.To) through fetcher and delivers every page
// to fanout via EmitBulk. It returns a non-nil error on the first fatal
// (non-retryable) page error — callers map that to a non-zero exit code.
func Run(ctx context.Context, fetcher RangeFetcher, fanout *sink.Fanout, cfg Config) (int, error) {
	if cfg.Transformer != nil {
		fanout.ApplyTransformer(cfg.Transformer)
	}
	if err := fanout.Connect(ctx); err != nil {
		return 1, fmt.Errorf("backfill: sink connect: %w", err)
	}
	defer fanout.Close(ctx)

	pages, err := fetcher.FetchRange(ctx, cfg.Symbol, cfg.Timeframe, cfg.From, cfg.To)
	if err != nil {
		return 1, fmt.Errorf("backfill: fetch range: %w", err)
	}

	total := 0
	for page := range pages {
		if page.Err != nil {
			var ban *rest.BanError
			if errors.As(page.Err, &ban) {
				log.Error().Str("exchange", cfg.Exchange).Str("symbol", cfg.Symbol).Err(page.Err).
					Msg("backfill aborted: ip ban")
				return 1, page.Err
			}
			log.Error().Str("exchange", cfg.Exchange).Str("symbol", cfg.Symbol).Err(page.Err).
				Msg("backfill page error")
			return 1, page.Err
		}
		if len(page.Candles) == 0 {
			continue
		}
		fanout.EmitBulk(ctx, page.Candles)
		total += len(page.Candles)
	}

	log.Info().Str("exchange", cfg.Exchange).Str("symbol", cfg.Symbol).
		Str("timeframe", string(cfg.Timeframe)).Int("candles", total).Msg("backfill complete")
	return 0, nil
}
