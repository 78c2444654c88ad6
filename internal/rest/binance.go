package rest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/circuit"
	"github.com/cryptoedge/candlestream/internal/normalize"
	"github.com/cryptoedge/candlestream/internal/ratelimit"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

// Binance spot public REST limit is 1000 requests/60s; 429 backoff is a
// conservative full minute per SPEC_FULL §4.6.
const binance429Backoff = 60 * time.Second

// BinanceClient fetches kline history from Binance's spot, USD-M futures,
// or COIN-M futures REST API, selected by MarketType — Binance splits
// these onto distinct hosts and kline paths, unlike Bybit's single unified
// endpoint keyed by a query parameter.
type BinanceClient struct {
	*Client
	BaseURL    string
	MarketType string // "spot" (default), "futures_usdm", or "futures_coinm"
	norm       normalize.Binance
}

func NewBinanceClient(baseURL, marketType string, limiter *ratelimit.Manager, breaker *circuit.Registry) *BinanceClient {
	marketType = normalizeBinanceMarketType(marketType)
	if baseURL == "" {
		baseURL = binanceRESTBaseURL(marketType)
	}
	return &BinanceClient{
		Client:     NewClient("binance", limiter, breaker, binance429Backoff),
		BaseURL:    baseURL,
		MarketType: marketType,
	}
}

// normalizeBinanceMarketType maps RunnerConfig.market_type onto the three
// REST hosts Binance actually splits kline history across. An empty or
// unrecognized value is Binance's own DEFAULT, spot.
func normalizeBinanceMarketType(mt string) string {
	switch strings.ToLower(mt) {
	case "futures_usdm":
		return "futures_usdm"
	case "futures_coinm":
		return "futures_coinm"
	default:
		return "spot"
	}
}

func binanceRESTBaseURL(marketType string) string {
	switch marketType {
	case "futures_usdm":
		return "https://fapi.binance.com"
	case "futures_coinm":
		return "https://dapi.binance.com"
	default:
		return "https://api.binance.com"
	}
}

// binanceKlinesPath is the only part of the kline endpoint that varies
// across Binance's three market types once BaseURL already points at the
// right host.
func binanceKlinesPath(marketType string) string {
	switch marketType {
	case "futures_usdm":
		return "/fapi/v1/klines"
	case "futures_coinm":
		return "/dapi/v1/klines"
	default:
		return "/api/v3/klines"
	}
}

// FetchRecent fetches the most recent 1000 completed candles for warmup.
func (b *BinanceClient) FetchRecent(ctx context.Context, symbol string, tf timeframe.Timeframe) ([]candle.Candle, error) {
	url := fmt.Sprintf("%s%s?symbol=%s&interval=%s&limit=1000",
		b.BaseURL, binanceKlinesPath(b.MarketType), strings.ToUpper(symbol), string(tf))
	body, err := b.Get(ctx, b.MarketType, "klines", url)
	if err != nil {
		return nil, err
	}
	rows, err := unmarshalRowArray(body)
	if err != nil {
		return nil, fmt.Errorf("rest/binance: %w", err)
	}
	return decodeRows(b.norm, rows, symbol, tf, "binance"), nil
}

// FetchRange paginates [from, to) into sequential, chronologically ordered
// pages of at most 1000 candles each.
func (b *BinanceClient) FetchRange(ctx context.Context, symbol string, tf timeframe.Timeframe, from, to time.Time) (<-chan Page, error) {
	out := make(chan Page)
	windows := paginateWindows(from, to, tf, 1000)
	go func() {
		defer close(out)
		for _, w := range windows {
			url := fmt.Sprintf("%s%s?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=1000",
				b.BaseURL, binanceKlinesPath(b.MarketType), strings.ToUpper(symbol), string(tf), w.From.UnixMilli(), w.To.UnixMilli())
			body, err := b.Get(ctx, b.MarketType, "klines", url)
			if err != nil {
				select {
				case out <- Page{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			rows, err := unmarshalRowArray(body)
			if err != nil {
				select {
				case out <- Page{Err: fmt.Errorf("rest/binance: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			page := Page{Candles: decodeRows(b.norm, rows, symbol, tf, "binance")}
			select {
			case out <- page:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
