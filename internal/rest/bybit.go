package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/circuit"
	"github.com/cryptoedge/candlestream/internal/normalize"
	"github.com/cryptoedge/candlestream/internal/ratelimit"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

const bybit429Backoff = 5 * time.Second

// BybitClient fetches kline history from Bybit's unified v5 REST API.
// Bybit's kline endpoint is shared across spot/linear/inverse market
// types and rate-limited once for all of them (20 req/s) — callers must
// register the "bybit" venue via ratelimit.Manager.RegisterSharedVenue so
// every market type draws from the same token bucket.
type BybitClient struct {
	*Client
	BaseURL    string
	MarketType string // "spot", "linear", or "inverse"
	norm       normalize.Bybit
}

func NewBybitClient(baseURL, marketType string, limiter *ratelimit.Manager, breaker *circuit.Registry) *BybitClient {
	if baseURL == "" {
		baseURL = "https://api.bybit.com"
	}
	marketType = strings.ToLower(marketType)
	if marketType == "" {
		marketType = "spot"
	}
	return &BybitClient{
		Client:     NewClient("bybit", limiter, breaker, bybit429Backoff),
		BaseURL:    baseURL,
		MarketType: marketType,
	}
}

var bybitRESTIntervals = map[timeframe.Timeframe]string{
	timeframe.M1: "1", timeframe.M3: "3", timeframe.M5: "5",
	timeframe.M15: "15", timeframe.M30: "30",
	timeframe.H1: "60", timeframe.H2: "120", timeframe.H4: "240",
	timeframe.D1: "D", timeframe.W1: "W", timeframe.MN1: "M",
}

func (b *BybitClient) FetchRecent(ctx context.Context, symbol string, tf timeframe.Timeframe) ([]candle.Candle, error) {
	iv, ok := bybitRESTIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("rest/bybit: unsupported timeframe %q", tf)
	}
	url := fmt.Sprintf("%s/v5/market/kline?category=%s&symbol=%s&interval=%s&limit=1000",
		b.BaseURL, b.MarketType, strings.ToUpper(symbol), iv)
	body, err := b.Get(ctx, b.MarketType, "kline", url)
	if err != nil {
		return nil, err
	}
	rows, err := decodeBybitEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("rest/bybit: %w", err)
	}
	return decodeRows(b.norm, reverseRows(rows), symbol, tf, "bybit"), nil
}

func (b *BybitClient) FetchRange(ctx context.Context, symbol string, tf timeframe.Timeframe, from, to time.Time) (<-chan Page, error) {
	iv, ok := bybitRESTIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("rest/bybit: unsupported timeframe %q", tf)
	}
	out := make(chan Page)
	windows := paginateWindows(from, to, tf, 1000)
	go func() {
		defer close(out)
		for _, w := range windows {
			url := fmt.Sprintf("%s/v5/market/kline?category=%s&symbol=%s&interval=%s&start=%d&end=%d&limit=1000",
				b.BaseURL, b.MarketType, strings.ToUpper(symbol), iv, w.From.UnixMilli(), w.To.UnixMilli())
			body, err := b.Get(ctx, b.MarketType, "kline", url)
			if err != nil {
				select {
				case out <- Page{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			rows, err := decodeBybitEnvelope(body)
			if err != nil {
				select {
				case out <- Page{Err: fmt.Errorf("rest/bybit: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			page := Page{Candles: decodeRows(b.norm, reverseRows(rows), symbol, tf, "bybit")}
			select {
			case out <- page:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type bybitKlineEnvelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]any `json:"list"`
	} `json:"result"`
}

func decodeBybitEnvelope(body []byte) ([]any, error) {
	var env bybitKlineEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error %d: %s", env.RetCode, env.RetMsg)
	}
	rows := make([]any, len(env.Result.List))
	for i, r := range env.Result.List {
		rows[i] = r
	}
	return rows, nil
}

// reverseRows flips Bybit's newest-first kline rows into chronological
// order before normalization.
func reverseRows(rows []any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r
	}
	return out
}
