package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

// OKX decodes OKX candle<tf> channel pushes and REST candle rows. Both
// shapes are the same 9-element array:
// [ts(ms), o, h, l, c, vol, volCcy, volCcyQuote, confirm]
// where confirm is the string "0" (still open) or "1" (closed).
type OKX struct{}

type okxCandleFrame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data [][]any `json:"data"`
}

type okxEvent struct {
	Event string `json:"event"`
}

func (OKX) FromWS(raw []byte) (*candle.Candle, error) {
	var ev okxEvent
	if err := json.Unmarshal(raw, &ev); err == nil && ev.Event != "" {
		return nil, nil
	}
	var f okxCandleFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("normalize/okx: decode ws frame: %w", err)
	}
	if !strings.HasPrefix(f.Arg.Channel, "candle") || len(f.Data) == 0 {
		return nil, nil
	}
	tf, err := okxChannelToTimeframe(f.Arg.Channel)
	if err != nil {
		return nil, fmt.Errorf("normalize/okx: %w", err)
	}
	return decodeOKXRow(f.Data[0], f.Arg.InstID, tf)
}

func (OKX) FromREST(row any, symbol string, tf timeframe.Timeframe) (*candle.Candle, error) {
	arr, ok := row.([]any)
	if !ok {
		return nil, fmt.Errorf("normalize/okx: rest row is not an array")
	}
	return decodeOKXRow(arr, symbol, tf)
}

func decodeOKXRow(arr []any, symbol string, tf timeframe.Timeframe) (*candle.Candle, error) {
	if len(arr) < 9 {
		return nil, fmt.Errorf("normalize/okx: row has %d elements, want >=9", len(arr))
	}
	tsMS, err := toInt64(arr[0])
	if err != nil {
		return nil, fmt.Errorf("normalize/okx: ts: %w", err)
	}
	openTS, err := secondsFromRaw(tsMS)
	if err != nil {
		return nil, fmt.Errorf("normalize/okx: %w", err)
	}
	endTS := timeframe.EndOf(tf, openTS)
	o, h, l, c, err := decodeOHLC(arr[1], arr[2], arr[3], arr[4])
	if err != nil {
		return nil, fmt.Errorf("normalize/okx: %w", err)
	}
	vol, err := parseDecimalAny(arr[5])
	if err != nil {
		return nil, fmt.Errorf("normalize/okx: volume: %w", err)
	}
	volCcyQuote, _ := parseDecimalAny(arr[7])
	confirm, _ := arr[8].(string)
	return &candle.Candle{
		Source: candle.OKX, Symbol: symbol, TF: tf,
		OpenTS: openTS, EndTS: endTS,
		Open: o, High: h, Low: l, Close: c,
		Volume: vol, QuoteVol: volCcyQuote,
		IsClosed: confirm == "1", Count: 1,
	}, nil
}

var okxChannelIntervals = map[string]timeframe.Timeframe{
	"candle1m": timeframe.M1, "candle3m": timeframe.M3, "candle5m": timeframe.M5,
	"candle15m": timeframe.M15, "candle30m": timeframe.M30,
	"candle1H": timeframe.H1, "candle2H": timeframe.H2, "candle4H": timeframe.H4,
	"candle1D": timeframe.D1, "candle1W": timeframe.W1, "candle1M": timeframe.MN1,
}

func okxChannelToTimeframe(channel string) (timeframe.Timeframe, error) {
	tf, ok := okxChannelIntervals[channel]
	if !ok {
		return "", fmt.Errorf("unknown okx channel %q", channel)
	}
	return tf, nil
}
