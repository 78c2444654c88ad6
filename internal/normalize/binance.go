package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/timeframe"
	"github.com/shopspring/decimal"
)

// Binance decodes Binance combined-stream kline frames and REST kline rows.
type Binance struct{}

type binanceKlinePayload struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		K         struct {
			OpenTimeMS  int64  `json:"t"`
			CloseTimeMS int64  `json:"T"`
			Symbol      string `json:"s"`
			Interval    string `json:"i"`
			Open        string `json:"o"`
			High        string `json:"h"`
			Low         string `json:"l"`
			Close       string `json:"c"`
			Volume      string `json:"v"`
			QuoteVolume string `json:"q"`
			Trades      int64  `json:"n"`
			IsClosed    bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// FromWS decodes one Binance combined-stream frame. Non-kline event types
// (e.g. depth/trade streams the caller never subscribed to, or a raw frame
// with no "data" envelope) yield (nil, nil).
func (Binance) FromWS(raw []byte) (*candle.Candle, error) {
	var p binanceKlinePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("normalize/binance: decode ws frame: %w", err)
	}
	if p.Data.EventType != "kline" {
		return nil, nil
	}
	k := p.Data.K
	openTS, err := secondsFromRaw(k.OpenTimeMS)
	if err != nil {
		return nil, fmt.Errorf("normalize/binance: %w", err)
	}
	endTS, err := secondsFromRaw(k.CloseTimeMS)
	if err != nil {
		return nil, fmt.Errorf("normalize/binance: %w", err)
	}
	tf := timeframe.Timeframe(k.Interval)
	o, h, l, c, err := decodeOHLC(k.Open, k.High, k.Low, k.Close)
	if err != nil {
		return nil, fmt.Errorf("normalize/binance: %w", err)
	}
	vol, err := parseDecimal(k.Volume)
	if err != nil {
		return nil, fmt.Errorf("normalize/binance: %w", err)
	}
	quoteVol, _ := parseDecimal(k.QuoteVolume)
	return &candle.Candle{
		Source: candle.Binance, Symbol: k.Symbol, TF: tf,
		OpenTS: openTS, EndTS: endTS,
		Open: o, High: h, Low: l, Close: c,
		Volume: vol, QuoteVol: quoteVol,
		// Count is the number of base candles this candle aggregates, not
		// Binance's own trade count (k.Trades) — a leaf candle is always 1.
		IsClosed: k.IsClosed, Count: 1,
	}, nil
}

// FromREST decodes a 12-element Binance kline REST row:
// [0]open_ts(ms) [1]open [2]high [3]low [4]close [5]volume [6]end_ts(ms)
// [7]quote_volume [8]trades [9..11] taker-buy stats, ignored.
func (Binance) FromREST(row any, symbol string, tf timeframe.Timeframe) (*candle.Candle, error) {
	arr, ok := row.([]any)
	if !ok || len(arr) < 8 {
		return nil, fmt.Errorf("normalize/binance: rest row is not a >=8 element array")
	}
	openMS, err := toInt64(arr[0])
	if err != nil {
		return nil, fmt.Errorf("normalize/binance: open_ts: %w", err)
	}
	endMS, err := toInt64(arr[6])
	if err != nil {
		return nil, fmt.Errorf("normalize/binance: end_ts: %w", err)
	}
	openTS, err := secondsFromRaw(openMS)
	if err != nil {
		return nil, fmt.Errorf("normalize/binance: %w", err)
	}
	endTS, err := secondsFromRaw(endMS)
	if err != nil {
		return nil, fmt.Errorf("normalize/binance: %w", err)
	}
	o, h, l, c, err := decodeOHLC(arr[1], arr[2], arr[3], arr[4])
	if err != nil {
		return nil, fmt.Errorf("normalize/binance: %w", err)
	}
	vol, err := parseDecimalAny(arr[5])
	if err != nil {
		return nil, fmt.Errorf("normalize/binance: volume: %w", err)
	}
	var quoteVol float64
	if len(arr) > 7 {
		quoteVol, _ = parseDecimalAny(arr[7])
	}
	return &candle.Candle{
		Source: candle.Binance, Symbol: symbol, TF: tf,
		OpenTS: openTS, EndTS: endTS,
		Open: o, High: h, Low: l, Close: c,
		Volume: vol, QuoteVol: quoteVol,
		IsClosed: true, Count: 1,
	}, nil
}

func decodeOHLC(o, h, l, c any) (open, high, low, close float64, err error) {
	open, err = parseDecimalAny(o)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("open: %w", err)
	}
	high, err = parseDecimalAny(h)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("high: %w", err)
	}
	low, err = parseDecimalAny(l)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("low: %w", err)
	}
	close, err = parseDecimalAny(c)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("close: %w", err)
	}
	return open, high, low, close, nil
}

func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// parseDecimalAny accepts either a wire string or a JSON number (some
// venues emit numeric REST fields while others quote everything).
func parseDecimalAny(v any) (float64, error) {
	switch x := v.(type) {
	case string:
		return parseDecimal(x)
	case float64:
		return x, nil
	case json.Number:
		f, err := x.Float64()
		return f, err
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case float64:
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case int64:
		return x, nil
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return 0, err
		}
		return d.IntPart(), nil
	default:
		return 0, fmt.Errorf("unsupported integer type %T", v)
	}
}
