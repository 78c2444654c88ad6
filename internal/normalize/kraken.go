package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cryptoedge/candlestream/internal/candle"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

// Kraken decodes "ohlc-<minutes>" channel pushes and the /0/public/OHLC
// REST response rows. A WS push carries the end of the interval ("etime")
// and open_ts is derived as end_ts - duration + 1; a REST row carries the
// interval start ("time") instead.
type Kraken struct{}

// krakenWSFrame models the [channelID, [fields...], channelName, pair]
// array Kraken sends for book/ohlc subscriptions.
type krakenWSFrame []json.RawMessage

func (Kraken) FromWS(raw []byte) (*candle.Candle, error) {
	var evt struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &evt); err == nil && evt.Event != "" {
		// subscriptionStatus, heartbeat, systemStatus, pong, etc.
		return nil, nil
	}
	var frame krakenWSFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("normalize/kraken: decode ws frame: %w", err)
	}
	if len(frame) < 4 {
		return nil, nil
	}
	var channelName, pair string
	if err := json.Unmarshal(frame[2], &channelName); err != nil {
		return nil, fmt.Errorf("normalize/kraken: channel name: %w", err)
	}
	if len(channelName) < 5 || channelName[:5] != "ohlc-" {
		return nil, nil
	}
	if err := json.Unmarshal(frame[3], &pair); err != nil {
		return nil, fmt.Errorf("normalize/kraken: pair: %w", err)
	}
	var fields []json.Number
	if err := json.Unmarshal(frame[1], &fields); err != nil {
		return nil, fmt.Errorf("normalize/kraken: ohlc fields: %w", err)
	}
	// fields: [time, etime, open, high, low, close, vwap, volume, count]
	if len(fields) < 8 {
		return nil, fmt.Errorf("normalize/kraken: ohlc payload has %d fields, want >=8", len(fields))
	}
	endFloat, err := fields[1].Float64()
	if err != nil {
		return nil, fmt.Errorf("normalize/kraken: end time: %w", err)
	}
	endTS := int64(endFloat)
	tf, err := krakenChannelToTimeframe(channelName)
	if err != nil {
		return nil, fmt.Errorf("normalize/kraken: %w", err)
	}
	openTS := endTS - timeframe.Seconds(tf) + 1
	o, err := fields[2].Float64()
	if err != nil {
		return nil, fmt.Errorf("normalize/kraken: open: %w", err)
	}
	h, err := fields[3].Float64()
	if err != nil {
		return nil, fmt.Errorf("normalize/kraken: high: %w", err)
	}
	l, err := fields[4].Float64()
	if err != nil {
		return nil, fmt.Errorf("normalize/kraken: low: %w", err)
	}
	c, err := fields[5].Float64()
	if err != nil {
		return nil, fmt.Errorf("normalize/kraken: close: %w", err)
	}
	vol, err := fields[7].Float64()
	if err != nil {
		return nil, fmt.Errorf("normalize/kraken: volume: %w", err)
	}
	return &candle.Candle{
		Source: candle.Kraken, Symbol: pair, TF: tf,
		OpenTS: openTS, EndTS: endTS,
		Open: o, High: h, Low: l, Close: c,
		Volume: vol, IsClosed: intervalClosed(endTS), Count: 1,
	}, nil
}

// intervalClosed reports whether the interval ending at endTS has actually
// elapsed. Kraken's OHLC feed (WS and REST alike) carries no explicit
// closed flag, unlike Bybit's confirm or OKX's confirm string — so the
// open/closed state must be derived from wall-clock time instead.
func intervalClosed(endTS int64) bool {
	return endTS < time.Now().Unix()
}

// FromREST decodes one row of Kraken's /0/public/OHLC response:
// [time, open, high, low, close, vwap, volume, count], where time is the
// interval start in seconds.
func (Kraken) FromREST(row any, symbol string, tf timeframe.Timeframe) (*candle.Candle, error) {
	arr, ok := row.([]any)
	if !ok || len(arr) < 7 {
		return nil, fmt.Errorf("normalize/kraken: rest row is not a >=7 element array")
	}
	startF, err := parseDecimalAny(arr[0])
	if err != nil {
		return nil, fmt.Errorf("normalize/kraken: time: %w", err)
	}
	openTS := int64(startF)
	endTS := timeframe.EndOf(tf, openTS)
	o, h, l, c, err := decodeOHLC(arr[1], arr[2], arr[3], arr[4])
	if err != nil {
		return nil, fmt.Errorf("normalize/kraken: %w", err)
	}
	vol, err := parseDecimalAny(arr[6])
	if err != nil {
		return nil, fmt.Errorf("normalize/kraken: volume: %w", err)
	}
	return &candle.Candle{
		Source: candle.Kraken, Symbol: symbol, TF: tf,
		OpenTS: openTS, EndTS: endTS,
		Open: o, High: h, Low: l, Close: c,
		Volume: vol, IsClosed: intervalClosed(endTS), Count: 1,
	}, nil
}

var krakenChannelIntervals = map[string]timeframe.Timeframe{
	"ohlc-1": timeframe.M1, "ohlc-3": timeframe.M3, "ohlc-5": timeframe.M5,
	"ohlc-15": timeframe.M15, "ohlc-30": timeframe.M30,
	"ohlc-60": timeframe.H1, "ohlc-120": timeframe.H2, "ohlc-240": timeframe.H4,
	"ohlc-1440": timeframe.D1, "ohlc-10080": timeframe.W1, "ohlc-21600": timeframe.MN1,
}

func krakenChannelToTimeframe(channel string) (timeframe.Timeframe, error) {
	tf, ok := krakenChannelIntervals[channel]
	if !ok {
		return "", fmt.Errorf("unknown kraken channel %q", channel)
	}
	return tf, nil
}
