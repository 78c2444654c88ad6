package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/circuit"
	"github.com/cryptoedge/candlestream/internal/normalize"
	"github.com/cryptoedge/candlestream/internal/ratelimit"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

const kraken429Backoff = 15 * time.Second

// KrakenClient fetches OHLC history from Kraken's public REST API.
type KrakenClient struct {
	*Client
	BaseURL string
	norm    normalize.Kraken
}

func NewKrakenClient(baseURL string, limiter *ratelimit.Manager, breaker *circuit.Registry) *KrakenClient {
	if baseURL == "" {
		baseURL = "https://api.kraken.com"
	}
	return &KrakenClient{Client: NewClient("kraken", limiter, breaker, kraken429Backoff), BaseURL: baseURL}
}

var krakenRESTIntervals = map[timeframe.Timeframe]int{
	timeframe.M1: 1, timeframe.M3: 3, timeframe.M5: 5,
	timeframe.M15: 15, timeframe.M30: 30,
	timeframe.H1: 60, timeframe.H2: 120, timeframe.H4: 240,
	timeframe.D1: 1440, timeframe.W1: 10080, timeframe.MN1: 21600,
}

func (k *KrakenClient) FetchRecent(ctx context.Context, symbol string, tf timeframe.Timeframe) ([]candle.Candle, error) {
	iv, ok := krakenRESTIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("rest/kraken: unsupported timeframe %q", tf)
	}
	url := fmt.Sprintf("%s/0/public/OHLC?pair=%s&interval=%d", k.BaseURL, symbol, iv)
	body, err := k.Get(ctx, "spot", "OHLC", url)
	if err != nil {
		return nil, err
	}
	rows, err := decodeKrakenEnvelope(body, symbol)
	if err != nil {
		return nil, fmt.Errorf("rest/kraken: %w", err)
	}
	return decodeRows(k.norm, rows, symbol, tf, "kraken"), nil
}

func (k *KrakenClient) FetchRange(ctx context.Context, symbol string, tf timeframe.Timeframe, from, to time.Time) (<-chan Page, error) {
	iv, ok := krakenRESTIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("rest/kraken: unsupported timeframe %q", tf)
	}
	out := make(chan Page)
	windows := paginateWindows(from, to, tf, 720)
	go func() {
		defer close(out)
		for _, w := range windows {
			url := fmt.Sprintf("%s/0/public/OHLC?pair=%s&interval=%d&since=%d",
				k.BaseURL, symbol, iv, w.From.Unix())
			body, err := k.Get(ctx, "spot", "OHLC", url)
			if err != nil {
				select {
				case out <- Page{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			rows, err := decodeKrakenEnvelope(body, symbol)
			if err != nil {
				select {
				case out <- Page{Err: fmt.Errorf("rest/kraken: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			page := Page{Candles: decodeRows(k.norm, rows, symbol, tf, "kraken")}
			select {
			case out <- page:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// decodeKrakenEnvelope unwraps Kraken's {"error":[],"result":{"<pair>":[rows...],"last":n}}
// shape. Kraken echoes the pair under a venue-normalized key that does not
// always match the request's pair string exactly, so the first (and only
// non-"last") key in result is used.
func decodeKrakenEnvelope(body []byte, symbol string) ([]any, error) {
	var env struct {
		Error  []string                   `json:"error"`
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("kraken api error: %v", env.Error)
	}
	for key, raw := range env.Result {
		if key == "last" {
			continue
		}
		var rows [][]any
		if err := json.Unmarshal(raw, &rows); err != nil {
			continue
		}
		out := make([]any, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return out, nil
	}
	return nil, fmt.Errorf("no OHLC rows found for %s in response", symbol)
}
