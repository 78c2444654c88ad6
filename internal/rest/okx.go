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

const okx429Backoff = 2 * time.Second

// OKXClient fetches candle history from OKX's public REST API.
type OKXClient struct {
	*Client
	BaseURL string
	norm    normalize.OKX
}

func NewOKXClient(baseURL string, limiter *ratelimit.Manager, breaker *circuit.Registry) *OKXClient {
	if baseURL == "" {
		baseURL = "https://www.okx.com"
	}
	return &OKXClient{Client: NewClient("okx", limiter, breaker, okx429Backoff), BaseURL: baseURL}
}

var okxRESTBars = map[timeframe.Timeframe]string{
	timeframe.M1: "1m", timeframe.M3: "3m", timeframe.M5: "5m",
	timeframe.M15: "15m", timeframe.M30: "30m",
	timeframe.H1: "1H", timeframe.H2: "2H", timeframe.H4: "4H",
	timeframe.D1: "1D", timeframe.W1: "1W", timeframe.MN1: "1M",
}

func (o *OKXClient) FetchRecent(ctx context.Context, symbol string, tf timeframe.Timeframe) ([]candle.Candle, error) {
	bar, ok := okxRESTBars[tf]
	if !ok {
		return nil, fmt.Errorf("rest/okx: unsupported timeframe %q", tf)
	}
	url := fmt.Sprintf("%s/api/v5/market/candles?instId=%s&bar=%s&limit=300", o.BaseURL, symbol, bar)
	body, err := o.Get(ctx, "spot", "candles", url)
	if err != nil {
		return nil, err
	}
	rows, err := decodeOKXEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("rest/okx: %w", err)
	}
	return decodeRows(o.norm, rows, symbol, tf, "okx"), nil
}

func (o *OKXClient) FetchRange(ctx context.Context, symbol string, tf timeframe.Timeframe, from, to time.Time) (<-chan Page, error) {
	bar, ok := okxRESTBars[tf]
	if !ok {
		return nil, fmt.Errorf("rest/okx: unsupported timeframe %q", tf)
	}
	out := make(chan Page)
	windows := paginateWindows(from, to, tf, 300)
	go func() {
		defer close(out)
		for _, w := range windows {
			url := fmt.Sprintf("%s/api/v5/market/history-candles?instId=%s&bar=%s&before=%d&after=%d&limit=300",
				o.BaseURL, symbol, bar, w.From.UnixMilli(), w.To.UnixMilli())
			body, err := o.Get(ctx, "spot", "candles", url)
			if err != nil {
				select {
				case out <- Page{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			rows, err := decodeOKXEnvelope(body)
			if err != nil {
				select {
				case out <- Page{Err: fmt.Errorf("rest/okx: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			page := Page{Candles: decodeRows(o.norm, rows, symbol, tf, "okx")}
			select {
			case out <- page:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type okxEnvelope struct {
	Code string    `json:"code"`
	Msg  string    `json:"msg"`
	Data [][]any   `json:"data"`
}

func decodeOKXEnvelope(body []byte) ([]any, error) {
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("okx api error %s: %s", env.Code, env.Msg)
	}
	rows := make([]any, len(env.Data))
	for i, r := range env.Data {
		rows[i] = r
	}
	return rows, nil
}
